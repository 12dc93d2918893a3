package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type Event string

const (
	EventJobCompleted Event = "job_completed"
	EventJobFailed    Event = "job_failed"
)

type Payload struct {
	Event     Event     `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	JobID     string    `json:"job_id"`
	Error     string    `json:"error,omitempty"`
}

// Sender delivers job outcome events to a single configured endpoint.
// Delivery is fire-and-forget with a small bounded retry; the queue
// worker never blocks on a webhook.
type Sender struct {
	url        string
	secret     []byte
	httpClient *http.Client
	queue      chan *Payload
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

func NewSender(url, secret string) *Sender {
	s := &Sender{
		url:        url,
		secret:     []byte(secret),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		queue:      make(chan *Payload, 100),
		stopCh:     make(chan struct{}),
	}

	s.wg.Add(1)
	go s.deliverLoop()

	return s
}

func (s *Sender) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Sender) JobCompleted(jobID string) {
	s.enqueue(&Payload{Event: EventJobCompleted, Timestamp: time.Now().UTC(), JobID: jobID})
}

func (s *Sender) JobFailed(jobID, errMsg string) {
	s.enqueue(&Payload{Event: EventJobFailed, Timestamp: time.Now().UTC(), JobID: jobID, Error: errMsg})
}

func (s *Sender) enqueue(p *Payload) {
	select {
	case s.queue <- p:
	default:
		log.Warn().Str("job_id", p.JobID).Msg("webhook queue full, dropping event")
	}
}

func (s *Sender) deliverLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case p := <-s.queue:
			s.deliver(p)
		}
	}
}

func (s *Sender) deliver(p *Payload) {
	body, err := json.Marshal(p)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal webhook payload")
		return
	}

	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-s.stopCh:
				return
			case <-time.After(5 * time.Second):
			}
		}

		if err := s.post(body); err != nil {
			log.Warn().
				Err(err).
				Str("job_id", p.JobID).
				Int("attempt", attempt+1).
				Msg("webhook delivery failed")
			continue
		}
		return
	}
}

func (s *Sender) post(body []byte) error {
	req, err := http.NewRequest(http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	if len(s.secret) > 0 {
		mac := hmac.New(sha256.New, s.secret)
		mac.Write(body)
		req.Header.Set("X-Spool-Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}

	return nil
}

type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook endpoint returned status %d", e.Code)
}
