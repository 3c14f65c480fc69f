package client

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Callback interface for handling incoming WebSocket messages
type WebSocketCallback interface {
	OnMessage(message string)
	// OnDisconnect is called once when the read loop ends.
	OnDisconnect(err error)
}

type WebSocketConnection struct {
	WebSocketURL   string
	Header         http.Header
	Conn           *websocket.Conn
	ConnectionDone chan bool
	MaxRetry       int
	RetryCount     int
	Callback       WebSocketCallback

	// Exponential backoff configuration
	BaseDelay time.Duration // The initial delay, e.g., 1 second
	MaxDelay  time.Duration // The maximum delay, e.g., 1 minute
	Dialer    websocket.Dialer

	mu          sync.Mutex // guards Conn and isConnected
	isConnected bool
}

func (w *WebSocketConnection) IsConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.isConnected
}

// ConnectWithManager connects to the WebSocket, retrying with exponential
// backoff, and starts the read loop once connected. A timeout of 0 returns
// immediately, a negative timeout waits for the outcome indefinitely.
func (w *WebSocketConnection) ConnectWithManager(timeout time.Duration) error {
	// Channel to signal the outcome of the connection attempts
	connected := make(chan error, 1)
	// Channel for connection attempts (ensures connect() is not called concurrently)
	attemptConnect := make(chan bool, 1)
	attemptConnect <- true // Trigger the first connection attempt immediately

	go func() {
		retries := 0
		for {
			select {
			case <-attemptConnect:
				err := w.connect()
				if err != nil {
					slog.Error("Connection attempt failed", "url", w.WebSocketURL, "error", err)

					// Check if the maximum number of retries has been reached
					retries++
					if retries > w.MaxRetry {
						connected <- fmt.Errorf("maximum number of retries reached (%d): %w", w.MaxRetry, err)
						return
					}

					// Wait a bit before retrying to connect
					time.AfterFunc(w.getReconnectDelay(), func() {
						attemptConnect <- true
					})
				} else {
					connected <- nil
					w.handleMessages()
					return // Exit the goroutine once the read loop ends
				}
			case <-w.ConnectionDone:
				connected <- fmt.Errorf("connection closed while connecting")
				return
			}
		}
	}()

	// Block until either a successful connection or timeout
	if timeout > 0 {
		select {
		case err := <-connected:
			return err
		case <-time.After(timeout):
			return fmt.Errorf("connection timeout after %v", timeout)
		}
	} else if timeout < 0 {
		return <-connected
	}

	return nil
}

func (w *WebSocketConnection) connect() error {
	conn, resp, err := w.Dialer.Dial(w.WebSocketURL, w.Header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return err
	}

	w.mu.Lock()
	w.Conn = conn
	w.isConnected = true
	w.RetryCount = 0
	w.mu.Unlock()
	return nil
}

// Close closes the connection. The read loop ends and reports the disconnect.
func (w *WebSocketConnection) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Conn == nil {
		return nil
	}
	_ = w.Conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return w.Conn.Close()
}

// Handle incoming WebSocket messages. Messages are dispatched one at a time, in
// the order they were received.
func (w *WebSocketConnection) handleMessages() {
	w.mu.Lock()
	conn := w.Conn
	w.mu.Unlock()

	var readErr error
	defer func() {
		conn.Close()
		w.mu.Lock()
		w.isConnected = false
		w.mu.Unlock()
		if w.Callback != nil {
			w.Callback.OnDisconnect(readErr)
		}
	}()
	for {
		mtype, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				slog.Warn("websocket read error", "error", err)
			}
			readErr = err
			return
		}
		// binary frames carry preview images, which we do not consume
		if mtype != websocket.TextMessage {
			continue
		}
		if w.Callback != nil {
			w.Callback.OnMessage(string(message))
		}
	}
}

// exponential backoff calculation
func (w *WebSocketConnection) getReconnectDelay() time.Duration {
	// Calculate the delay as BaseDelay * 2^(RetryCount), capped at MaxDelay
	delay := w.BaseDelay * time.Duration(math.Pow(2, float64(w.RetryCount)))
	if delay > w.MaxDelay {
		delay = w.MaxDelay
	}
	w.RetryCount++ // Increment the retry counter for the next attempt
	return delay
}
