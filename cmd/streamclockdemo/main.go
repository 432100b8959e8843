// Command streamclockdemo runs a loopback voice pipeline — capture, DSP
// chain, Opus encode, a loopback "network" hop back to the same process,
// jitter-buffered decode, and playback — driven by an interpolator.Interpolator
// that turns the playback FIFO's buffer-delivery callbacks into a smooth
// stream clock suitable for A/V sync.
package main

import (
	"flag"
	"log"
	"math"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"streamclock/internal/adapt"
	"streamclock/internal/aec"
	"streamclock/internal/agc"
	"streamclock/internal/config"
	"streamclock/internal/jitter"
	"streamclock/internal/noisegate"
	"streamclock/internal/vad"
	"streamclock/interpolator"

	"github.com/gordonklaus/portaudio"
	"gopkg.in/hraban/opus.v2"
)

const (
	sampleRate = 48000
	channels   = 1
	frameSize  = 960 // 20ms @ 48kHz

	frameDurationUsecs = int64(frameSize) * 1e6 / sampleRate

	opusMaxPacketBytes = 1275 // RFC 6716 max Opus packet size

	captureChannelBuf  = 30
	playbackChannelBuf = 30
)

// taggedAudio is a decoded-network-hop Opus frame tagged with its
// originating sender and sequence number, the same shape the jitter buffer
// expects.
type taggedAudio struct {
	SenderID uint16
	Seq      uint16
	OpusData []byte
}

type pipeline struct {
	cfg config.Config

	encoder *opus.Encoder
	decoder *opus.Decoder

	captureStream  *portaudio.Stream
	playbackStream *portaudio.Stream

	captureOut  chan []byte
	playbackIn  chan taggedAudio
	stopCh      chan struct{}
	wg          sync.WaitGroup
	running     atomic.Bool
	dropCapture atomic.Uint64
	dropPlay    atomic.Uint64

	aecProc  *aec.AEC
	agcProc  *agc.AGC
	vadProc  *vad.VAD
	gateProc *noisegate.Gate

	jb           *jitter.Buffer
	ip           *interpolator.Interpolator
	currentKbps  int
	smoothedLoss float64
	seqNo        atomic.Uint32
}

func newPipeline(cfg config.Config) *pipeline {
	kbps := cfg.StartingBitrateKbps
	if kbps <= 0 {
		kbps = adapt.DefaultKbps
	}
	return &pipeline{
		cfg:         cfg,
		captureOut:  make(chan []byte, captureChannelBuf),
		playbackIn:  make(chan taggedAudio, playbackChannelBuf),
		stopCh:      make(chan struct{}),
		aecProc:     aec.New(frameSize),
		agcProc:     agc.New(),
		vadProc:     vad.New(),
		gateProc:    noisegate.New(),
		jb:          jitter.New(cfg.JitterDepth),
		ip:          interpolator.New(nil, interpolator.LogDiagnostics{}),
		currentKbps: kbps,
	}
}

func (p *pipeline) start() error {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return err
	}
	enc.SetBitrate(p.currentKbps * 1000)
	enc.SetDTX(true)
	enc.SetInBandFEC(true)
	p.encoder = enc

	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return err
	}
	p.decoder = dec

	if p.cfg.LatencyUsecs > 0 {
		p.ip.SetLatency(p.cfg.LatencyUsecs)
	} else {
		p.ip.SetLatency(p.jb.DepthUSecs())
	}

	captureBuf := make([]float32, frameSize)
	captureParams := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   resolveInput(p.cfg.InputDeviceID),
			Channels: channels,
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: frameSize,
	}
	captureStream, err := portaudio.OpenStream(captureParams, captureBuf)
	if err != nil {
		return err
	}

	playbackBuf := make([]float32, frameSize)
	playbackParams := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   resolveOutput(p.cfg.OutputDeviceID),
			Channels: channels,
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: frameSize,
	}
	playbackStream, err := portaudio.OpenStream(playbackParams, playbackBuf)
	if err != nil {
		captureStream.Close()
		return err
	}

	if err := captureStream.Start(); err != nil {
		captureStream.Close()
		playbackStream.Close()
		return err
	}
	if err := playbackStream.Start(); err != nil {
		captureStream.Stop()
		captureStream.Close()
		playbackStream.Close()
		return err
	}

	p.captureStream = captureStream
	p.playbackStream = playbackStream
	p.running.Store(true)

	p.wg.Add(3)
	go func() { defer p.wg.Done(); p.captureLoop(captureBuf) }()
	go func() { defer p.wg.Done(); p.playbackLoop(playbackBuf) }()
	go func() { defer p.wg.Done(); p.adaptLoop() }()

	log.Printf("[streamclockdemo] started capture+playback, bitrate=%dkbps jitter_depth=%d",
		p.cfg.StartingBitrateKbps, p.cfg.JitterDepth)
	return nil
}

func resolveInput(id int) *portaudio.DeviceInfo {
	devices, err := portaudio.Devices()
	if err != nil || id < 0 || id >= len(devices) {
		d, _ := portaudio.DefaultInputDevice()
		return d
	}
	return devices[id]
}

func resolveOutput(id int) *portaudio.DeviceInfo {
	devices, err := portaudio.Devices()
	if err != nil || id < 0 || id >= len(devices) {
		d, _ := portaudio.DefaultOutputDevice()
		return d
	}
	return devices[id]
}

func (p *pipeline) stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)

	if p.captureStream != nil {
		p.captureStream.Stop()
	}
	if p.playbackStream != nil {
		p.playbackStream.Stop()
	}
	p.wg.Wait()

	if p.captureStream != nil {
		p.captureStream.Close()
	}
	if p.playbackStream != nil {
		p.playbackStream.Close()
	}
	log.Println("[streamclockdemo] stopped")
}

func clampFloat32(v float32) float32 {
	if v > 1.0 {
		return 1.0
	}
	if v < -1.0 {
		return -1.0
	}
	return v
}

func (p *pipeline) captureLoop(buf []float32) {
	pcm := make([]int16, frameSize)
	opusBuf := make([]byte, opusMaxPacketBytes)

	for p.running.Load() {
		if err := p.captureStream.Read(); err != nil {
			if p.running.Load() {
				log.Printf("[streamclockdemo] capture read: %v", err)
			}
			return
		}

		p.aecProc.Process(buf)
		p.gateProc.Process(buf)
		p.agcProc.Process(buf)

		if !p.vadProc.ShouldSend(vad.RMS(buf)) {
			continue
		}

		for i, s := range buf {
			pcm[i] = int16(clampFloat32(s) * 32767)
		}

		n, err := p.encoder.Encode(pcm, opusBuf)
		if err != nil {
			log.Printf("[streamclockdemo] encode: %v", err)
			continue
		}
		encoded := make([]byte, n)
		copy(encoded, opusBuf[:n])

		select {
		case p.captureOut <- encoded:
		default:
			p.dropCapture.Add(1)
		}
	}
}

// loopbackLoop simulates a network hop by forwarding encoded frames from
// captureOut to playbackIn, tagged with a monotonically increasing sequence
// number. Frames are forwarded in order with no added delay, so the jitter
// buffer's reordering path is not exercised; a frame dropped because
// playbackIn is full leaves a gap in the sequence numbers, which reaches the
// jitter buffer's loss-concealment path.
func (p *pipeline) loopbackLoop() {
	for {
		select {
		case <-p.stopCh:
			return
		case data := <-p.captureOut:
			seq := uint16(p.seqNo.Add(1))
			select {
			case p.playbackIn <- taggedAudio{SenderID: 1, Seq: seq, OpusData: data}:
			default:
				p.dropPlay.Add(1)
			}
		}
	}
}

func (p *pipeline) playbackLoop(buf []float32) {
	pcm := make([]int16, frameSize)

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

	drain:
		for {
			select {
			case tagged := <-p.playbackIn:
				p.jb.Push(tagged.SenderID, tagged.Seq, tagged.OpusData)
			default:
				break drain
			}
		}

		for i := range buf {
			buf[i] = 0
		}

		for _, f := range p.jb.Pop() {
			var n int
			var err error
			switch {
			case f.OpusData != nil:
				n, err = p.decoder.Decode(f.OpusData, pcm)
			case f.FECData != nil:
				if fecErr := p.decoder.DecodeFEC(f.FECData, pcm); fecErr != nil {
					n, err = p.decoder.Decode(nil, pcm)
				} else {
					n = frameSize
				}
			default:
				n, err = p.decoder.Decode(nil, pcm)
			}
			if err != nil {
				log.Printf("[streamclockdemo] decode sender %d: %v", f.SenderID, err)
				continue
			}
			for i := 0; i < n; i++ {
				buf[i] += float32(pcm[i]) / 32768.0
			}
		}

		for i := range buf {
			buf[i] = clampFloat32(buf[i])
		}

		p.aecProc.FeedFarEnd(buf)

		// This is the FIFO buffer-delivery callback: one frameDurationUsecs
		// of media time was just queued for the HAL to consume.
		p.ip.PostBuffer(frameDurationUsecs)

		if err := p.playbackStream.Write(); err != nil {
			if p.running.Load() {
				log.Printf("[streamclockdemo] playback write: %v", err)
			}
			return
		}
	}
}

// adaptLoop periodically measures loss (frames dropped on the capture and
// playback channels) and nudges the Opus bitrate to match. It also sets the
// jitter buffer depth from TargetJitterDepth and feeds that depth into the
// interpolator's latency; since no jitter measurement is available here,
// that depth is always adapt.DefaultJitterDepth, whatever the loss.
func (p *pipeline) adaptLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			dropC := p.dropCapture.Swap(0)
			dropP := p.dropPlay.Swap(0)
			total := dropC + dropP
			rawLoss := math.Min(1.0, float64(total)/float64(captureChannelBuf))
			p.smoothedLoss = adapt.SmoothLoss(p.smoothedLoss, rawLoss, 0.3)

			p.currentKbps = adapt.NextBitrate(p.currentKbps, p.smoothedLoss, 0)
			if err := p.encoder.SetBitrate(p.currentKbps * 1000); err != nil {
				log.Printf("[streamclockdemo] set bitrate: %v", err)
			}
			if err := p.encoder.SetPacketLossPerc(int(p.smoothedLoss * 100)); err != nil {
				log.Printf("[streamclockdemo] set packet loss: %v", err)
			}

			depth := adapt.TargetJitterDepth(0, p.smoothedLoss)
			p.jb.SetDepth(depth)
			p.ip.SetLatency(p.jb.DepthUSecs())

			log.Printf("[streamclockdemo] adapt: loss=%.1f%% bitrate=%dkbps jitter_depth=%d stream_usecs=%d tf=%.3f",
				p.smoothedLoss*100, p.currentKbps, depth, p.ip.GetStreamUsecs(), p.ip.TimeFactor())
		}
	}
}

func main() {
	cfgPath := flag.Bool("print-config-path", false, "print the config file path and exit")
	flag.Parse()

	if *cfgPath {
		path, err := config.Path()
		if err != nil {
			log.Fatalf("config path: %v", err)
		}
		log.Println(path)
		return
	}

	cfg := config.Load()

	if err := portaudio.Initialize(); err != nil {
		log.Fatalf("portaudio init: %v", err)
	}
	defer portaudio.Terminate()

	p := newPipeline(cfg)
	if err := p.start(); err != nil {
		log.Fatalf("start pipeline: %v", err)
	}
	p.wg.Add(1)
	go func() { defer p.wg.Done(); p.loopbackLoop() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	<-sig

	p.stop()
}
