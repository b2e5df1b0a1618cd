package sandbox

import (
	"bytes"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"gorm.io/gorm"
	"lukechampine.com/blake3"

	"escrowkit/transport"
)

// IdempotencyHeader carries the client-chosen key for a mutation.
const IdempotencyHeader = transport.HeaderIdempotencyKey

// withIdempotency executes each keyed request once. A repeated key with the
// same body replays the stored response; a different body is rejected.
func (s *Server) withIdempotency(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(IdempotencyHeader)
		if key == "" || r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "Unable to read request.")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		sum := blake3.Sum256(append([]byte(r.URL.Path+"\n"), body...))
		hash := hex.EncodeToString(sum[:])

		var record IdempotencyKey
		err = s.db.WithContext(r.Context()).First(&record, "key = ?", key).Error
		switch {
		case err == nil:
			if record.RequestHash != hash {
				writeError(w, http.StatusConflict, "Idempotency key reused with a different request.")
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replay", "true")
			w.WriteHeader(record.Status)
			_, _ = io.WriteString(w, record.Response)
			return
		case !errors.Is(err, gorm.ErrRecordNotFound):
			writeError(w, http.StatusInternalServerError, "Storage unavailable.")
			return
		}

		recorder := &responseRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r)

		if recorder.status == 0 {
			recorder.status = http.StatusOK
		}
		if recorder.status >= http.StatusInternalServerError {
			return
		}
		payload := IdempotencyKey{
			Key:         key,
			RequestHash: hash,
			Method:      r.Method,
			Path:        r.URL.Path,
			Status:      recorder.status,
			Response:    recorder.buf.String(),
			CreatedAt:   s.now(),
		}
		if err := s.db.WithContext(r.Context()).Create(&payload).Error; err != nil {
			s.logger.WarnContext(r.Context(), "persist idempotency record",
				slog.String("path", r.URL.Path), slog.Any("error", err))
		}
	})
}

// responseRecorder captures the response for idempotent operations.
type responseRecorder struct {
	http.ResponseWriter
	buf    bytes.Buffer
	status int
}

func (rr *responseRecorder) WriteHeader(status int) {
	rr.status = status
	rr.ResponseWriter.WriteHeader(status)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if rr.status == 0 {
		rr.status = http.StatusOK
	}
	rr.buf.Write(b)
	return rr.ResponseWriter.Write(b)
}
