package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"hkbot/internal/domain"
	"hkbot/internal/pipeline"
	"hkbot/internal/whatsapp"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

// handleVerify answers the subscription challenge sent when the webhook is
// registered.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode, token, challenge := q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge")

	if mode == "subscribe" && s.cfg.VerifyToken != "" && token == s.cfg.VerifyToken {
		s.logger.Info("webhook verified")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, html.EscapeString(challenge))
		return
	}
	s.logger.Warn("webhook verification failed", "mode", mode)
	http.Error(w, "Forbidden", http.StatusForbidden)
}

// handleWebhook validates a delivery, acknowledges it and leaves the work to
// the queue so slow agent runs never delay the response.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if s.cfg.AppSecret != "" && !whatsapp.VerifySignature(body, r.Header.Get(whatsapp.SignatureHeader), s.cfg.AppSecret) {
		s.logger.Warn("webhook signature mismatch")
		writeError(w, http.StatusForbidden, "invalid signature")
		return
	}

	var payload whatsapp.Payload
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&payload); err != nil {
		s.logger.Warn("webhook bad payload", "err", err)
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	delivery, err := pipeline.ValidateDelivery(&payload, s.cfg.DefaultBusinessID)
	switch {
	case errors.Is(err, pipeline.ErrNoMessages):
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	case err != nil:
		s.logger.Warn("webhook rejected", "err", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})

	if s.cfg.Enqueue == nil {
		s.logger.Error("no processor configured, delivery dropped", "messages", len(delivery.Messages))
		return
	}
	if err := s.cfg.Enqueue(delivery); err != nil {
		s.logger.Error("delivery not queued", "messages", len(delivery.Messages), "err", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "OK", "timestamp": s.now().UTC().Format(time.RFC3339)}
	if s.cfg.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.cfg.Store.Ping(ctx); err != nil {
			resp["status"] = "DEGRADED"
			resp["store"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type agentRequest struct {
	Input    string `json:"input"`
	Agent    string `json:"agent,omitempty"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages,omitempty"`
}

// handleAgent runs an agent on an ad-hoc conversation. Nothing is stored.
func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Agent == nil {
		writeError(w, http.StatusServiceUnavailable, "agent not configured")
		return
	}
	var req agentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Input) == "" {
		writeError(w, http.StatusBadRequest, "input is required")
		return
	}

	prior := make([]domain.Turn, 0, len(req.Messages))
	for _, m := range req.Messages {
		prior = append(prior, domain.Turn{Role: m.Role, Content: m.Content})
	}

	out := s.cfg.Agent.RunDirect(r.Context(), req.Agent, req.Input, prior)
	if !out.Completed() {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": errString(out.Err),
			"agent": out.Agent,
			"state": out.State.String(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"finalOutput": out.FinalOutput,
		"agent":       out.Agent,
		"toolCalls":   out.Result.ToolCalls,
		"usage":       out.Result.Usage,
		"durationMs":  out.Duration.Milliseconds(),
	})
}

type sendRequest struct {
	PhoneNumber string `json:"phone_number"`
	Message     string `json:"message"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Sender == nil {
		writeError(w, http.StatusServiceUnavailable, "sender not configured")
		return
	}
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	to := domain.NormalizePhone(req.PhoneNumber)
	if to == "" || strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "phone_number and message are required")
		return
	}
	if err := s.cfg.Sender.SendText(r.Context(), to, req.Message); err != nil {
		s.logger.Error("debug send failed", "to", to, "err", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "to": to})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
