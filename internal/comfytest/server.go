// Package comfytest runs an in-process imitation of a ComfyUI backend: the HTTP
// endpoints the client uses plus the /ws event stream, driven by a script.
package comfytest

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/richinsley/comfyflow/graphapi"
)

//go:embed testdata/object_info.json
var defaultObjectInfo []byte

// ImageBytes is the body served by /view.
var ImageBytes = []byte("\x89PNG\r\n\x1a\nfake image data")

// Event is one websocket message.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Script produces the events sent for a submitted prompt and the outputs stored
// in its history entry.
type Script func(promptID string, nodes map[string]graphapi.PromptNode) ([]Event, map[string]interface{})

type Option func(*Server)

// WithAuth makes every route require header to equal value.
func WithAuth(header, value string) Option {
	return func(s *Server) {
		s.authHeader = header
		s.authValue = value
	}
}

func WithScript(script Script) Option {
	return func(s *Server) {
		s.script = script
	}
}

func WithObjectInfo(data []byte) Option {
	return func(s *Server) {
		s.objectInfo = data
	}
}

// WithUploadStatus makes /upload/image answer with status instead of
// succeeding.
func WithUploadStatus(status int) Option {
	return func(s *Server) {
		s.uploadStatus = status
	}
}

// Server is the fake backend.
type Server struct {
	*httptest.Server

	authHeader   string
	authValue    string
	script       Script
	objectInfo   []byte
	uploadStatus int
	upgrader     websocket.Upgrader

	mu      sync.Mutex
	conns   map[string]*wsConn
	counts  map[string]int
	prompts map[string]map[string]graphapi.PromptNode
	history map[string]map[string]interface{}
	uploads []string
	number  int
}

type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(ev)
}

// New starts a fake backend. Close it when done.
func New(opts ...Option) *Server {
	s := &Server{
		script:     SuccessScript,
		objectInfo: defaultObjectInfo,
		conns:      make(map[string]*wsConn),
		counts:     make(map[string]int),
		prompts:    make(map[string]map[string]graphapi.PromptNode),
		history:    make(map[string]map[string]interface{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/system_stats", s.handleSystemStats)
	mux.HandleFunc("/object_info", s.handleObjectInfo)
	mux.HandleFunc("/object_info/", s.handleObjectInfo)
	mux.HandleFunc("/prompt", s.handlePrompt)
	mux.HandleFunc("/history/", s.handleHistory)
	mux.HandleFunc("/upload/image", s.handleUpload)
	mux.HandleFunc("/view", s.handleView)
	s.Server = httptest.NewServer(s.authorize(mux))
	return s
}

// Count returns how many requests reached a route, such as "/object_info".
func (s *Server) Count(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[route]
}

// Prompts returns the submitted prompts by prompt id.
func (s *Server) Prompts() map[string]map[string]graphapi.PromptNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	retv := make(map[string]map[string]graphapi.PromptNode, len(s.prompts))
	for k, v := range s.prompts {
		retv[k] = v
	}
	return retv
}

// Uploads returns the names of the uploaded files in upload order.
func (s *Server) Uploads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.uploads...)
}

// Send pushes an event to a connected client. It is used to simulate messages
// that are not tied to a prompt.
func (s *Server) Send(clientID string, ev Event) error {
	s.mu.Lock()
	c := s.conns[clientID]
	s.mu.Unlock()
	if c == nil {
		return fmt.Errorf("client %s is not connected", clientID)
	}
	return c.send(ev)
}

// DropConnections closes every websocket without a close handshake.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.conns {
		c.conn.Close()
		delete(s.conns, id)
	}
}

func (s *Server) count(route string) {
	s.mu.Lock()
	s.counts[route]++
	s.mu.Unlock()
}

func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authHeader != "" && r.Header.Get(s.authHeader) != s.authValue {
			http.Error(w, "401: Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.count("/ws")
	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &wsConn{conn: conn}
	s.mu.Lock()
	s.conns[clientID] = c
	s.mu.Unlock()

	_ = c.send(Event{Type: "status", Data: map[string]interface{}{
		"status": map[string]interface{}{"exec_info": map[string]interface{}{"queue_remaining": 0}},
		"sid":    clientID,
	}})

	// drain until the client goes away
	go func() {
		defer func() {
			s.mu.Lock()
			if s.conns[clientID] == c {
				delete(s.conns, clientID)
			}
			s.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleSystemStats(w http.ResponseWriter, r *http.Request) {
	s.count("/system_stats")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"system": map[string]interface{}{
			"os":              "posix",
			"python_version":  "3.11.9",
			"embedded_python": false,
			"comfyui_version": "0.3.40",
		},
		"devices": []interface{}{
			map[string]interface{}{
				"name":             "cuda:0 NVIDIA GeForce RTX 4090",
				"type":             "cuda",
				"index":            0,
				"vram_total":       25757220864,
				"vram_free":        24000000000,
				"torch_vram_total": 0,
				"torch_vram_free":  0,
			},
		},
	})
}

func (s *Server) handleObjectInfo(w http.ResponseWriter, r *http.Request) {
	class := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/object_info"), "/")
	if class == "" {
		s.count("/object_info")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(s.objectInfo)
		return
	}
	s.count("/object_info/{class}")
	all := make(map[string]json.RawMessage)
	if err := json.Unmarshal(s.objectInfo, &all); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	retv := make(map[string]json.RawMessage)
	if def, ok := all[class]; ok {
		retv[class] = def
	}
	writeJSON(w, http.StatusOK, retv)
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusOK, map[string]interface{}{"exec_info": map[string]interface{}{"queue_remaining": 0}})
		return
	}
	s.count("/prompt")

	var body graphapi.Prompt
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":       map[string]interface{}{"type": "invalid_prompt", "message": "Invalid prompt", "details": err.Error(), "extra_info": map[string]interface{}{}},
			"node_errors": map[string]interface{}{},
		})
		return
	}
	if len(outputNodes(body.Nodes)) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":       map[string]interface{}{"type": "prompt_no_outputs", "message": "Prompt has no outputs", "details": "", "extra_info": map[string]interface{}{}},
			"node_errors": map[string]interface{}{},
		})
		return
	}

	promptID := uuid.NewString()
	events, outputs := s.script(promptID, body.Nodes)

	s.mu.Lock()
	s.number++
	number := s.number
	s.prompts[promptID] = body.Nodes
	if outputs != nil {
		s.history[promptID] = outputs
	}
	c := s.conns[body.ClientID]
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"prompt_id":   promptID,
		"number":      number,
		"node_errors": map[string]interface{}{},
	})

	if c == nil {
		return
	}
	go func() {
		for _, ev := range events {
			if err := c.send(ev); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	s.count("/history/{id}")
	promptID := strings.TrimPrefix(r.URL.Path, "/history/")

	s.mu.Lock()
	outputs, ok := s.history[promptID]
	nodes := s.prompts[promptID]
	s.mu.Unlock()

	retv := map[string]interface{}{}
	if ok {
		retv[promptID] = map[string]interface{}{
			"prompt":  []interface{}{0, promptID, nodes, map[string]interface{}{}, outputNodes(nodes)},
			"outputs": outputs,
			"status":  map[string]interface{}{"status_str": "success", "completed": true, "messages": []interface{}{}},
		}
	}
	writeJSON(w, http.StatusOK, retv)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	s.count("/upload/image")
	if s.uploadStatus != 0 {
		http.Error(w, http.StatusText(s.uploadStatus), s.uploadStatus)
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()
	if _, err := io.Copy(io.Discard, file); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	name := header.Filename
	s.mu.Lock()
	// the backend renames instead of overwriting unless asked to
	if r.FormValue("overwrite") != "true" {
		for _, u := range s.uploads {
			if u == name {
				name = fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(name, extension(name)), len(s.uploads), extension(name))
				break
			}
		}
	}
	s.uploads = append(s.uploads, name)
	s.mu.Unlock()

	ftype := r.FormValue("type")
	if ftype == "" {
		ftype = "input"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":      name,
		"subfolder": r.FormValue("subfolder"),
		"type":      ftype,
	})
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	s.count("/view")
	if r.URL.Query().Get("filename") == "" {
		http.Error(w, "missing filename", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(ImageBytes)
}

func extension(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i:]
	}
	return ""
}

// outputNodes returns the ids of the image output nodes of a prompt in numeric
// order.
func outputNodes(nodes map[string]graphapi.PromptNode) []string {
	retv := make([]string, 0)
	for id, n := range nodes {
		if n.ClassType == "SaveImage" || n.ClassType == "PreviewImage" {
			retv = append(retv, id)
		}
	}
	sortIDs(retv)
	return retv
}

func sortIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, aerr := strconv.Atoi(ids[i])
		b, berr := strconv.Atoi(ids[j])
		if aerr == nil && berr == nil {
			return a < b
		}
		return ids[i] < ids[j]
	})
}
