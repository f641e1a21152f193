// Package voicecore implements the real-time audio pipelines of a voice
// call: a capture engine that turns driver bursts into fixed frames and
// encoded packets, and a playback engine that turns frames and packets
// back into driver bursts.
//
// Both engines sit on lock-free SPSC ring buffers (package ringbuf) so
// the driver callbacks never block, a unified codec adapter (package
// codec) covering Opus and Codec2, and a voice filter chain (package
// dsp) for capture conditioning. Package driver defines the audio
// backend abstraction; driver/mockdriver provides a deterministic
// implementation for tests.
//
// # Capture
//
//	eng, _ := voicecore.NewCaptureEngine(host, voicecore.DefaultCaptureConfig())
//	eng.ConfigureEncoder(codec.Config{Kind: codec.KindOpus, SampleRate: 48000, Channels: 1})
//	eng.Start()
//	packet := make([]byte, 1500)
//	for eng.Streaming() {
//	    if n, ok := eng.ReadEncodedPacket(packet); ok {
//	        send(packet[:n])
//	    }
//	}
//
// # Playback
//
//	eng, _ := voicecore.NewPlaybackEngine(host, voicecore.DefaultPlaybackConfig())
//	eng.ConfigureDecoder(codec.Config{Kind: codec.KindOpus, SampleRate: 48000, Channels: 1})
//	eng.Start()
//	for packet := range incoming {
//	    eng.WriteEncodedPacket(packet)
//	}
//
// # Real-time discipline
//
// The driver callbacks never take a mutex, allocate, or log. Shared
// state crossing the callback boundary is limited to the SPSC rings,
// a handful of atomic flags, and the decoder try-lock that arbitrates
// packet-loss concealment against the packet writer.
package voicecore
