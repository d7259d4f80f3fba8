package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	. "talespinner/types"

	"go.uber.org/zap"
)

// ErrStreamClosed is returned by Next once the stream has been closed locally.
var ErrStreamClosed = errors.New("event stream closed")

// EventStream is an open server-sent event subscription for one run.
type EventStream struct {
	runID  string
	body   io.ReadCloser
	reader *bufio.Reader
	cancel context.CancelFunc
	logger *zap.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// Subscribe opens the event stream of a run. The returned stream must be
// closed by the caller.
func (c *Client) Subscribe(ctx context.Context, runID string) (*EventStream, error) {
	ctx, cancel := context.WithCancel(ctx)

	path := "/api/v1/runs/" + url.PathEscape(runID) + "/events"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, parseError(resp.StatusCode, data)
	}

	c.logger.Debug("event stream opened", zap.String("run_id", runID))

	return &EventStream{
		runID:  runID,
		body:   resp.Body,
		reader: bufio.NewReader(resp.Body),
		cancel: cancel,
		logger: c.logger,
		closed: make(chan struct{}),
	}, nil
}

func (s *EventStream) RunID() string {
	return s.runID
}

// Next blocks until the next event arrives. Comment lines, frames without
// data and frames whose data is not a JSON envelope are skipped. io.EOF is
// returned when the server ends the stream.
func (s *EventStream) Next() (RunEvent, error) {
	var (
		eventName string
		data      []string
	)

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			select {
			case <-s.closed:
				return RunEvent{}, ErrStreamClosed
			default:
			}
			if errors.Is(err, io.EOF) {
				return RunEvent{}, io.EOF
			}
			return RunEvent{}, fmt.Errorf("failed to read event stream: %w", err)
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(data) == 0 {
				eventName = ""
				continue
			}
			event, ok := s.decode(eventName, strings.Join(data, "\n"))
			eventName, data = "", nil
			if ok {
				return event, nil
			}
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			eventName = value
		case "data":
			data = append(data, value)
		}
	}
}

func (s *EventStream) decode(eventName, payload string) (RunEvent, bool) {
	var event RunEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		s.logger.Debug("skipping malformed event", zap.String("run_id", s.runID), zap.Error(err))
		return RunEvent{}, false
	}
	if event.Type == "" {
		event.Type = eventName
	}
	return event, true
}

// Close cancels the subscription. It is safe to call more than once.
func (s *EventStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.cancel()
		err = s.body.Close()
		s.logger.Debug("event stream closed", zap.String("run_id", s.runID))
	})
	return err
}
