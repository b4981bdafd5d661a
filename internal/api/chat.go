package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/yuin/goldmark"

	"github.com/nugget/sundevil-helper/internal/agent"
	"github.com/nugget/sundevil-helper/internal/conversation"
	"github.com/nugget/sundevil-helper/internal/llm"
	"github.com/nugget/sundevil-helper/internal/memory"
	"github.com/nugget/sundevil-helper/internal/tools"
)

const maxRequestBody = 64 << 10

// ChatRequest is the body of POST /api/chat/ask.
type ChatRequest struct {
	Question       string `json:"question"`
	IncludeHistory *bool  `json:"include_history,omitempty"` // nil means true
	RenderHTML     bool   `json:"render_html,omitempty"`
}

// ChatResponse is returned for an answered question.
type ChatResponse struct {
	Question            string         `json:"question"`
	Answer              []string       `json:"answer"`
	AnswerHTML          []string       `json:"answer_html,omitempty"`
	Sources             []agent.Source `json:"sources"`
	ConversationHistory []memory.Turn  `json:"conversation_history,omitempty"`
}

// HistoryResponse is returned by GET /api/chat/history.
type HistoryResponse struct {
	ConversationID      memory.ConversationID `json:"conversation_id"`
	ConversationHistory []memory.Turn         `json:"conversation_history"`
}

func conversationID(r *http.Request) memory.ConversationID {
	if id := r.Header.Get(HeaderConversationID); id != "" {
		return memory.ConversationID(id)
	}
	return conversation.DefaultID
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}

	id := conversationID(r)
	reply, err := s.chat.Ask(r.Context(), id, req.Question)
	if err != nil {
		switch {
		case errors.Is(err, conversation.ErrInvalidQuestion):
			s.errorResponse(w, http.StatusUnprocessableEntity, err.Error())
		case r.Context().Err() != nil:
			s.logger.Info("client went away before the answer was ready", "conversation_id", string(id))
		default:
			s.logger.Error("question failed", "conversation_id", string(id), "error", err)
			s.errorResponse(w, http.StatusInternalServerError, failureDetail(err))
		}
		return
	}

	resp := ChatResponse{
		Question: reply.Question,
		Answer:   reply.Answer,
		Sources:  reply.Sources,
	}
	if req.IncludeHistory == nil || *req.IncludeHistory {
		resp.ConversationHistory = reply.History
	}
	if req.RenderHTML {
		resp.AnswerHTML = make([]string, 0, len(reply.Answer))
		for _, seg := range reply.Answer {
			html, err := renderMarkdown(seg)
			if err != nil {
				s.logger.Warn("markdown render failed", "error", err)
				html = ""
			}
			resp.AnswerHTML = append(resp.AnswerHTML, html)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := conversationID(r)
	turns, err := s.chat.History(r.Context(), id)
	if err != nil {
		s.logger.Error("history failed", "conversation_id", string(id), "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "could not load conversation history")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, HistoryResponse{ConversationID: id, ConversationHistory: turns}, s.logger)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	id := conversationID(r)
	sum, err := s.chat.Summary(r.Context(), id)
	if err != nil {
		s.logger.Error("summary failed", "conversation_id", string(id), "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "could not load conversation summary")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, sum, s.logger)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	id := conversationID(r)
	if err := s.chat.Clear(r.Context(), id); err != nil {
		if r.Context().Err() != nil {
			return
		}
		s.logger.Error("clear failed", "conversation_id", string(id), "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "could not clear conversation")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "cleared", "conversation_id": string(id)}, s.logger)
}

// failureDetail names the failing collaborator without echoing
// provider error text to the client.
func failureDetail(err error) string {
	switch {
	case errors.Is(err, llm.ErrUnavailable):
		return "Error processing question: the reasoning service is unavailable"
	case errors.Is(err, tools.ErrUnavailable):
		return "Error processing question: the search service is unavailable"
	default:
		return "Error processing question"
	}
}

func renderMarkdown(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
