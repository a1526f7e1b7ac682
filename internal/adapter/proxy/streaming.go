package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hestia-project/hestia-gateway/internal/logger"
)

// streamState tracks the progress of an in-flight stream copy.
type streamState struct {
	lastReadTime         time.Time
	totalBytes           int
	readCount            int
	bytesAfterDisconnect int
	clientDisconnected   bool
}

type readResult struct {
	err error
	n   int
}

// streamResponse copies body to w with a per-read timeout, so a backend that
// stops sending bytes mid-stream doesn't hang the client connection forever.
// The dual client/upstream-context split some proxies keep is dropped since
// this Proxy call only ever has one context to watch.
func (p *Proxy) streamResponse(ctx context.Context, w http.ResponseWriter, body io.Reader, buffer []byte, readTimeout time.Duration, rlog *logger.StyledLogger) (int, error) {
	state := &streamState{lastReadTime: time.Now()}
	flusher, canFlush := w.(http.Flusher)

	for {
		result, err := p.timedRead(ctx, body, buffer, readTimeout, state, rlog)
		if err != nil {
			return state.totalBytes, err
		}
		if result == nil {
			if ctx.Err() != nil {
				state.clientDisconnected = true
				return state.totalBytes, context.Canceled
			}
			return state.totalBytes, nil
		}

		done, err := p.processRead(result, w, buffer, flusher, canFlush, state, rlog)
		if done || err != nil {
			return state.totalBytes, err
		}
	}
}

func (p *Proxy) timedRead(ctx context.Context, body io.Reader, buffer []byte, readTimeout time.Duration, state *streamState, rlog *logger.StyledLogger) (*readResult, error) {
	readCh := make(chan readResult, 1)

	go func() {
		n, err := body.Read(buffer)
		select {
		case readCh <- readResult{n: n, err: err}:
		case <-ctx.Done():
		}
	}()

	timer := time.NewTimer(readTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		grace := time.NewTimer(time.Second)
		defer grace.Stop()
		select {
		case result := <-readCh:
			if result.n > 0 {
				return &result, nil
			}
		case <-grace.C:
		}
		return nil, nil

	case <-timer.C:
		if rlog != nil {
			rlog.Warn("read timeout exceeded between chunks", "timeout", readTimeout, "total_bytes", state.totalBytes)
		}
		return nil, fmt.Errorf("backend stopped responding - no data received for %.1fs", readTimeout.Seconds())

	case result := <-readCh:
		state.readCount++
		state.lastReadTime = time.Now()
		return &result, nil
	}
}

func (p *Proxy) processRead(result *readResult, w http.ResponseWriter, buffer []byte, flusher http.Flusher, canFlush bool, state *streamState, rlog *logger.StyledLogger) (bool, error) {
	n, err := result.n, result.err

	if n > 0 {
		if writeErr := p.writeChunk(w, buffer[:n], flusher, canFlush, state); writeErr != nil {
			return true, writeErr
		}
	}

	if err != nil {
		if errors.Is(err, io.EOF) {
			return true, nil
		}
		if rlog != nil {
			rlog.Warn("stream read error", "error", err, "total_bytes", state.totalBytes)
		}
		return true, err
	}
	return false, nil
}

func (p *Proxy) writeChunk(w http.ResponseWriter, data []byte, flusher http.Flusher, canFlush bool, state *streamState) error {
	if state.clientDisconnected {
		state.bytesAfterDisconnect += len(data)
		if state.bytesAfterDisconnect > clientDisconnectBytesThreshold {
			return context.Canceled
		}
		return nil
	}

	written, err := w.Write(data)
	state.totalBytes += written
	if err != nil {
		return err
	}
	if canFlush {
		flusher.Flush()
	}
	return nil
}
