package httpapi

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/ent0n29/voicepipeline/internal/audio"
	"github.com/ent0n29/voicepipeline/internal/turn"
)

var allowedAudioExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".ogg":  true,
	".flac": true,
	".m4a":  true,
	".webm": true,
}

type voiceResponse struct {
	Transcript     string `json:"transcript"`
	LLMResponse    string `json:"llm_response"`
	Audio          string `json:"audio"`
	AudioFormat    string `json:"audio_format"`
	SampleRate     int    `json:"sample_rate"`
	AudioSizeBytes int    `json:"audio_size_bytes"`
}

type sttResponse struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

type ttsRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "pipeline not configured")
		return
	}
	in, err := s.readAudioUpload(w, r)
	if err != nil {
		s.respondTurnError(w, err)
		return
	}
	res, err := s.pipeline.Run(r.Context(), in)
	if err != nil {
		s.respondTurnError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, voiceResponse{
		Transcript:     res.Transcript,
		LLMResponse:    res.Reply,
		Audio:          base64.StdEncoding.EncodeToString(res.Audio),
		AudioFormat:    "wav",
		SampleRate:     audio.SampleRateOf(res.Audio, s.cfg.SampleRate),
		AudioSizeBytes: len(res.Audio),
	})
}

func (s *Server) handleSTT(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "pipeline not configured")
		return
	}
	in, err := s.readAudioUpload(w, r)
	if err != nil {
		s.respondTurnError(w, err)
		return
	}
	text, err := s.pipeline.Transcribe(r.Context(), in)
	if err != nil {
		s.respondTurnError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sttResponse{Text: text, Final: true})
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "pipeline not configured")
		return
	}
	req, err := s.readTTSRequest(w, r)
	if err != nil {
		s.respondTurnError(w, err)
		return
	}
	out, err := s.pipeline.Synthesize(r.Context(), req.Text, req.Language)
	if err != nil {
		s.respondTurnError(w, err)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", `attachment; filename="tts_output.wav"`)
	w.Header().Set("Content-Length", fmt.Sprint(len(out)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (s *Server) readTTSRequest(w http.ResponseWriter, r *http.Request) (ttsRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, int64(s.cfg.MaxUploadBytes))
	var req ttsRequest
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		if err := decodeJSON(r, &req); err != nil {
			if errors.Is(err, errEmptyBody) {
				return req, &turn.ValidationError{Field: "text", Reason: "text is required"}
			}
			return req, &turn.ValidationError{Field: "body", Reason: err.Error()}
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return req, &turn.ValidationError{Field: "body", Reason: err.Error()}
		}
		req.Text = r.FormValue("text")
		req.Language = r.FormValue("language")
	}
	req.Text = strings.TrimSpace(req.Text)
	req.Language = strings.TrimSpace(req.Language)
	if req.Text == "" {
		return req, &turn.ValidationError{Field: "text", Reason: "text is required"}
	}
	return req, nil
}

// readAudioUpload returns the multipart "file" field after checking its type
// and size.
func (s *Server) readAudioUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	limit := int64(s.cfg.MaxUploadBytes)
	r.Body = http.MaxBytesReader(w, r.Body, limit+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &turn.ValidationError{Field: "file", Reason: fmt.Sprintf("upload exceeds %d bytes", limit)}
		}
		return nil, &turn.ValidationError{Field: "file", Reason: "expected multipart form with a file field"}
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, &turn.ValidationError{Field: "file", Reason: `multipart field "file" is required`}
	}
	defer file.Close()

	if !isAudioUpload(header.Header.Get("Content-Type"), header.Filename) {
		return nil, &turn.ValidationError{Field: "file", Reason: "file must be an audio file"}
	}
	if header.Size > limit {
		return nil, &turn.ValidationError{Field: "file", Reason: fmt.Sprintf("upload exceeds %d bytes", limit)}
	}
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, &turn.ValidationError{Field: "file", Reason: fmt.Sprintf("upload exceeds %d bytes", limit)}
	}
	if len(data) == 0 {
		return nil, &turn.ValidationError{Field: "file", Reason: "empty audio payload"}
	}
	return data, nil
}

func isAudioUpload(contentType, filename string) bool {
	if ct, _, err := mime.ParseMediaType(contentType); err == nil && strings.HasPrefix(ct, "audio/") {
		return true
	}
	return allowedAudioExtensions[strings.ToLower(filepath.Ext(filename))]
}
