package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/voicepipeline/internal/audio"
	"github.com/ent0n29/voicepipeline/internal/observability"
	"github.com/ent0n29/voicepipeline/internal/protocol"
)

type options struct {
	baseURL        string
	sessionID      string
	turns          int
	chunkMS        int
	realtime       float64
	startDelay     time.Duration
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	verbose        bool
}

type ttsRequest struct {
	Text string `json:"text"`
}

// wsFrame is the union of all server frames the replay cares about.
type wsFrame struct {
	Type    string `json:"type"`
	Mode    string `json:"mode,omitempty"`
	Text    string `json:"text,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Stage   string `json:"stage,omitempty"`
}

type audioClip struct {
	Text       string
	PCM        []byte
	SampleRate int
}

// turnTiming is measured from the moment the end of the audio stream is sent.
type turnTiming struct {
	Transcript time.Duration
	Reply      time.Duration
	Audio      time.Duration
	Total      time.Duration
	Err        string
}

type report struct {
	Turns  []turnTiming
	Server observability.StageSnapshot
}

var defaultUtterances = []string{
	"Reply in three words: latency bottleneck?",
	"Reply in three words: next optimization?",
	"Reply in three words: architecture summary?",
	"Reply in three words: top risk?",
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfvoice: %v\n", err)
		os.Exit(2)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()

	rep, err := run(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfvoice: %v\n", err)
		os.Exit(1)
	}
	printReport(os.Stdout, rep)
}

func parseFlags(args []string) (options, error) {
	var (
		cfg           options
		textsRaw      string
		startDelayMS  int
		interTurnMS   int
		turnTimeoutMS int
	)
	fs := flag.NewFlagSet("perfvoice", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "voice pipeline base URL")
	fs.StringVar(&cfg.sessionID, "session-id", "perf-replay", "session id used for the websocket session")
	fs.IntVar(&cfg.turns, "turns", 10, "number of turns to replay")
	fs.IntVar(&cfg.chunkMS, "chunk-ms", 45, "audio chunk size in milliseconds")
	fs.Float64Var(&cfg.realtime, "realtime", 3.0, "chunk pacing multiplier (1.0=realtime, 2.0=2x)")
	fs.IntVar(&startDelayMS, "start-delay-ms", 0, "delay before first synthetic turn in milliseconds")
	fs.IntVar(&interTurnMS, "inter-turn-ms", 180, "delay between turns in milliseconds")
	fs.IntVar(&turnTimeoutMS, "turn-timeout-ms", 30000, "timeout waiting for a turn to finish in milliseconds")
	fs.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	cfg.sessionID = strings.TrimSpace(cfg.sessionID)
	if cfg.sessionID == "" {
		return options{}, fmt.Errorf("session-id is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if cfg.chunkMS < 10 || cfg.chunkMS > 2000 {
		return options{}, fmt.Errorf("chunk-ms must be in [10,2000]")
	}
	if cfg.realtime <= 0 {
		return options{}, fmt.Errorf("realtime must be > 0")
	}
	cfg.startDelay = time.Duration(max(startDelayMS, 0)) * time.Millisecond
	cfg.interTurnDelay = time.Duration(max(interTurnMS, 0)) * time.Millisecond
	cfg.turnTimeout = time.Duration(max(turnTimeoutMS, 1000)) * time.Millisecond

	for _, part := range strings.Split(textsRaw, "|") {
		if t := strings.TrimSpace(part); t != "" {
			cfg.texts = append(cfg.texts, t)
		}
	}
	if len(cfg.texts) == 0 {
		cfg.texts = append([]string(nil), defaultUtterances...)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg options) (report, error) {
	httpClient := &http.Client{Timeout: 45 * time.Second}
	clips, err := synthClips(ctx, httpClient, cfg)
	if err != nil {
		return report{}, fmt.Errorf("prepare utterance audio: %w", err)
	}

	wsURL, err := wsURLForSession(cfg.baseURL, cfg.sessionID)
	if err != nil {
		return report{}, fmt.Errorf("build ws URL: %w", err)
	}
	conn, res, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return report{}, fmt.Errorf("open websocket: %w", err)
	}
	res.Body.Close()
	defer conn.Close()

	frames := make(chan wsFrame, 64)
	readErr := make(chan error, 1)
	go readLoop(conn, frames, readErr)

	if err := awaitMode(frames, readErr, "idle", cfg.turnTimeout); err != nil {
		return report{}, fmt.Errorf("await initial mode: %w", err)
	}
	if cfg.startDelay > 0 {
		time.Sleep(cfg.startDelay)
	}
	if cfg.verbose {
		fmt.Printf("perfvoice: session=%s turns=%d chunk_ms=%d realtime=%.2f\n", cfg.sessionID, cfg.turns, cfg.chunkMS, cfg.realtime)
	}

	var rep report
	for i := 0; i < cfg.turns; i++ {
		clip := clips[i%len(clips)]
		if cfg.verbose {
			fmt.Printf("perfvoice: turn %d/%d text=%q sample_rate=%dHz bytes=%d\n", i+1, cfg.turns, clip.Text, clip.SampleRate, len(clip.PCM))
		}
		if err := sendTurnAudio(conn, clip, cfg.chunkMS, cfg.realtime); err != nil {
			return rep, fmt.Errorf("turn %d send audio: %w", i+1, err)
		}
		timing, err := awaitTurn(frames, readErr, time.Now(), cfg.turnTimeout)
		if err != nil {
			return rep, fmt.Errorf("turn %d: %w", i+1, err)
		}
		if cfg.verbose && timing.Err != "" {
			fmt.Fprintf(os.Stderr, "perfvoice: turn %d failed: %s\n", i+1, timing.Err)
		}
		rep.Turns = append(rep.Turns, timing)
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}
	_ = conn.WriteJSON(map[string]string{"type": string(protocol.TypeDisconnect)})

	rep.Server, err = fetchServerLatency(ctx, httpClient, cfg.baseURL)
	if err != nil {
		return rep, fmt.Errorf("fetch server latency: %w", err)
	}
	return rep, nil
}

func synthClips(ctx context.Context, client *http.Client, cfg options) ([]audioClip, error) {
	cache := make(map[string]audioClip, len(cfg.texts))
	out := make([]audioClip, 0, len(cfg.texts))
	for _, text := range cfg.texts {
		if existing, ok := cache[text]; ok {
			out = append(out, existing)
			continue
		}
		clip, err := synthClip(ctx, client, cfg.baseURL, text)
		if err != nil {
			return nil, err
		}
		cache[text] = clip
		out = append(out, clip)
	}
	return out, nil
}

func synthClip(ctx context.Context, client *http.Client, baseURL, text string) (audioClip, error) {
	payload, err := json.Marshal(ttsRequest{Text: text})
	if err != nil {
		return audioClip{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/tts", bytes.NewReader(payload))
	if err != nil {
		return audioClip{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return audioClip{}, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 40<<20))
	if err != nil {
		return audioClip{}, err
	}
	if res.StatusCode != http.StatusOK {
		return audioClip{}, fmt.Errorf("tts %q HTTP %d: %s", text, res.StatusCode, strings.TrimSpace(string(body)))
	}

	wav, err := audio.ParseWAV(body)
	if err != nil {
		return audioClip{}, fmt.Errorf("decode tts wav for %q: %w", text, err)
	}
	if len(wav.Data) == 0 {
		return audioClip{}, fmt.Errorf("tts wav for %q produced no PCM bytes", text)
	}
	return audioClip{Text: text, PCM: wav.Data, SampleRate: wav.Format.SampleRate}, nil
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/session/" + url.PathEscape(sessionID)
	return u.String(), nil
}

func readLoop(conn *websocket.Conn, frames chan<- wsFrame, readErr chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		var f wsFrame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		frames <- f
	}
}

func awaitMode(frames <-chan wsFrame, readErr <-chan error, mode string, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case f := <-frames:
			if f.Type == string(protocol.TypeModeChange) && f.Mode == mode {
				return nil
			}
		case err := <-readErr:
			return err
		case <-timer.C:
			return fmt.Errorf("timeout after %s waiting for mode %s", timeout, mode)
		}
	}
}

// awaitTurn consumes frames until the session returns to idle after speaking.
func awaitTurn(frames <-chan wsFrame, readErr <-chan error, sentAt time.Time, timeout time.Duration) (turnTiming, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var (
		timing   turnTiming
		speaking bool
	)
	for {
		select {
		case f := <-frames:
			elapsed := time.Since(sentAt)
			switch protocol.MessageType(f.Type) {
			case protocol.TypeTranscript:
				timing.Transcript = elapsed
			case protocol.TypeAgentText:
				timing.Reply = elapsed
			case protocol.TypeAgentAudio:
				timing.Audio = elapsed
			case protocol.TypeError:
				timing.Err = fmt.Sprintf("%s %s: %s", f.Code, f.Stage, f.Message)
			case protocol.TypeModeChange:
				switch f.Mode {
				case "speaking":
					speaking = true
				case "idle":
					if speaking {
						timing.Total = elapsed
						return timing, nil
					}
				}
			}
		case err := <-readErr:
			return timing, err
		case <-timer.C:
			return timing, fmt.Errorf("timeout after %s", timeout)
		}
	}
}

func sendTurnAudio(conn *websocket.Conn, clip audioClip, chunkMS int, realtime float64) error {
	if err := conn.WriteJSON(map[string]string{"type": string(protocol.TypeStreamStart)}); err != nil {
		return err
	}
	sampleRate := clip.SampleRate
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	for _, chunk := range splitPCM(clip.PCM, sampleRate, chunkMS) {
		msg := map[string]string{
			"type":  string(protocol.TypeAudioChunk),
			"audio": base64.StdEncoding.EncodeToString(chunk),
		}
		if err := conn.WriteJSON(msg); err != nil {
			return err
		}
		pace := time.Duration(float64(time.Duration(len(chunk))*time.Second/time.Duration(sampleRate*2)) / realtime)
		if pace <= 0 {
			pace = time.Millisecond
		}
		time.Sleep(pace)
	}
	return conn.WriteJSON(map[string]string{"type": string(protocol.TypeStreamEnd)})
}

// splitPCM cuts 16-bit mono PCM into chunks of chunkMS, keeping samples whole.
func splitPCM(pcm []byte, sampleRate, chunkMS int) [][]byte {
	size := sampleRate * 2 * chunkMS / 1000
	if size < 2 {
		size = 2
	}
	size -= size % 2

	var out [][]byte
	for off := 0; off < len(pcm); off += size {
		end := min(off+size, len(pcm))
		out = append(out, pcm[off:end])
	}
	return out
}

func fetchServerLatency(ctx context.Context, client *http.Client, baseURL string) (observability.StageSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/perf/latency", nil)
	if err != nil {
		return observability.StageSnapshot{}, err
	}
	res, err := client.Do(req)
	if err != nil {
		return observability.StageSnapshot{}, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return observability.StageSnapshot{}, fmt.Errorf("HTTP %d", res.StatusCode)
	}
	var snap observability.StageSnapshot
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		return observability.StageSnapshot{}, err
	}
	return snap, nil
}

func printReport(w io.Writer, rep report) {
	var totals, audioTimes []float64
	failed := 0
	for _, t := range rep.Turns {
		if t.Err != "" {
			failed++
			continue
		}
		totals = append(totals, ms(t.Total))
		audioTimes = append(audioTimes, ms(t.Audio))
	}
	fmt.Fprintf(w, "perfvoice: turns=%d failed=%d\n", len(rep.Turns), failed)
	fmt.Fprintf(w, "  client turn_total   p50=%.1fms p95=%.1fms\n", percentile(totals, 0.50), percentile(totals, 0.95))
	fmt.Fprintf(w, "  client agent_audio  p50=%.1fms p95=%.1fms\n", percentile(audioTimes, 0.50), percentile(audioTimes, 0.95))
	for _, s := range rep.Server.Stages {
		fmt.Fprintf(w, "  server %-12s n=%d p50=%.1fms p95=%.1fms target_p95=%.0fms\n", s.Stage, s.Samples, s.P50MS, s.P95MS, s.TargetP95MS)
	}
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// percentile uses nearest-rank on a copy of values.
func percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	rank := int(q*float64(len(sorted))+0.999999) - 1
	rank = max(0, min(rank, len(sorted)-1))
	return sorted[rank]
}
