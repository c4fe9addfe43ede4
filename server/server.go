// Package server exposes the engine over HTTP: a small JSON API for
// uploads, document management and one-shot queries, plus a websocket
// endpoint for conversational chat.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gorilla/websocket"

	"notebook/internal/models"
	"notebook/pkg/engine"
)

const maxUploadBytes = 64 << 20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

// Message is the websocket envelope, both directions.
type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

type Server struct {
	engine       *engine.Engine
	historyTurns int
}

type Config struct {
	HistoryTurns int
}

func New(eng *engine.Engine, config Config) *Server {
	if config.HistoryTurns <= 0 {
		config.HistoryTurns = 4
	}
	return &Server{
		engine:       eng,
		historyTurns: config.HistoryTurns,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("GET /documents", s.handleListDocuments)
	mux.HandleFunc("GET /documents/{id}", s.handleGetDocument)
	mux.HandleFunc("DELETE /documents/{id}", s.handleDeleteDocument)
	mux.HandleFunc("POST /query", s.handleQuery)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return mux
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart request: %v", err))
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "no files provided")
		return
	}

	for _, header := range files {
		if !strings.EqualFold(filepath.Ext(header.Filename), ".pdf") {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("%s: only PDF files are supported", header.Filename))
			return
		}
	}

	var docs []models.Document
	for _, header := range files {
		file, err := header.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("reading %s: %v", header.Filename, err))
			return
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("reading %s: %v", header.Filename, err))
			return
		}

		doc, err := s.engine.Upload(r.Context(), header.Filename, data)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("registering %s: %v", header.Filename, err))
			return
		}
		docs = append(docs, doc)
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"documents": docs,
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.engine.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if docs == nil {
		docs = []models.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"documents": docs,
	})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.engine.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type queryRequest struct {
	DocumentIDs []string                  `json:"document_ids"`
	Query       string                    `json:"query"`
	History     []models.ConversationTurn `json:"history,omitempty"`
}

type queryResponse struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query must not be empty")
		return
	}

	answer, passages, err := s.engine.Ask(r.Context(), req.DocumentIDs, req.Query, req.History)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Answer:  answer,
		Sources: sourcePreviews(passages),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// wsQuery is the Data payload expected on incoming "query" messages.
type wsQuery struct {
	DocumentIDs []string `json:"document_ids"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// The connection carries the conversation: each answered question
	// becomes a history turn for the next one.
	var history []models.ConversationTurn

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Error reading message: %v", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.sendMessage(conn, "error", fmt.Sprintf("invalid message: %v", err))
			continue
		}
		if msg.Type != "query" {
			s.sendMessage(conn, "error", fmt.Sprintf("unsupported message type %q", msg.Type))
			continue
		}

		var sel wsQuery
		if msg.Data != nil {
			data, _ := json.Marshal(msg.Data)
			if err := json.Unmarshal(data, &sel); err != nil {
				s.sendMessage(conn, "error", fmt.Sprintf("invalid query data: %v", err))
				continue
			}
		}

		s.sendMessage(conn, "status", "retrieving context")

		answer, passages, err := s.engine.Ask(r.Context(), sel.DocumentIDs, msg.Content, history)
		if err != nil {
			s.sendMessage(conn, "error", err.Error())
			continue
		}

		history = append(history, models.ConversationTurn{
			Question: msg.Content,
			Answer:   answer,
		})
		if len(history) > s.historyTurns {
			history = history[len(history)-s.historyTurns:]
		}

		if err := conn.WriteJSON(Message{
			Type:    "response",
			Content: answer,
			Data:    sourcePreviews(passages),
		}); err != nil {
			log.Printf("Error sending message: %v", err)
			break
		}
	}
}

func (s *Server) sendMessage(conn *websocket.Conn, msgType, content string) {
	if err := conn.WriteJSON(Message{Type: msgType, Content: content}); err != nil {
		log.Printf("Error sending message: %v", err)
	}
}

// sourcePreviews truncates each grounding passage to a short prefix for
// display alongside the answer.
func sourcePreviews(passages []models.RetrievedPassage) []string {
	previews := make([]string, 0, len(passages))
	for _, p := range passages {
		text := p.Text
		if len(text) > 100 {
			text = text[:100] + "..."
		}
		previews = append(previews, text)
	}
	return previews
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrNoDocumentsSelected):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrEmbeddingProvider),
		errors.Is(err, models.ErrGenerationProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
