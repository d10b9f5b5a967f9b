// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/firewatch/internal/log"
	"github.com/ManuGH/firewatch/internal/pipeline/model"
	"github.com/ManuGH/firewatch/internal/pipeline/worker"
)

// DetectionResponse is the JSON body of every upload endpoint response.
type DetectionResponse struct {
	RequestID    string         `json:"requestId"`
	Success      bool           `json:"success"`
	Message      string         `json:"message,omitempty"`
	ResultPath   string         `json:"resultPath,omitempty"`
	FireDetected *bool          `json:"fireDetected,omitempty"`
	Signal       string         `json:"signal,omitempty"`
	Error        string         `json:"error,omitempty"`
	ErrorKind    string         `json:"errorKind,omitempty"`
	Stage        string         `json:"stage,omitempty"`
	Alert        *AlertResponse `json:"alert,omitempty"`
}

// AlertResponse reports what happened to the alert.
type AlertResponse struct {
	Status    string `json:"status"`
	Transport string `json:"transport,omitempty"`
	Error     string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeProblem answers requests that never became a run.
func writeProblem(w http.ResponseWriter, r *http.Request, code int, kind, msg string) {
	writeJSON(w, code, DetectionResponse{
		RequestID: log.RequestIDFromContext(r.Context()),
		Success:   false,
		Error:     msg,
		ErrorKind: kind,
	})
}

func writeOutcome(w http.ResponseWriter, out model.Outcome) {
	resp := DetectionResponse{
		RequestID:    out.RequestID,
		Success:      out.Success,
		Message:      messageFor(out),
		ResultPath:   out.ResultPath,
		FireDetected: out.FireDetected,
	}
	if out.Signal != "" && out.Signal != model.SignalNone {
		resp.Signal = string(out.Signal)
	}
	if out.Delivery != nil {
		resp.Alert = &AlertResponse{
			Status:    string(out.Delivery.Status),
			Transport: out.Delivery.Transport,
			Error:     out.Delivery.Error,
		}
	}
	if !out.Success && out.Failure != nil {
		resp.Error = out.Failure.Detail
		resp.ErrorKind = string(out.Failure.Kind)
		resp.Stage = string(out.FailedStage)
	}
	writeJSON(w, statusFor(out), resp)
}

// statusFor maps the outcome to an HTTP status. Delivery problems do not
// fail the request.
func statusFor(out model.Outcome) int {
	switch out.Kind() {
	case "":
		return http.StatusOK
	case model.KindInput:
		if errors.Is(out.Failure, worker.ErrTooLarge) {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusBadRequest
	case model.KindTranscode:
		return http.StatusUnprocessableEntity
	case model.KindInference:
		return http.StatusBadGateway
	case model.KindTimeout:
		return http.StatusGatewayTimeout
	case model.KindCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func messageFor(out model.Outcome) string {
	if !out.Success {
		return ""
	}
	fire := out.Mode == model.ModeFrame || (out.FireDetected != nil && *out.FireDetected)
	if !fire {
		return "no fire detected"
	}
	if out.Delivery == nil {
		return "fire detected"
	}
	switch out.Delivery.Status {
	case model.DeliveryDelivered:
		return "fire detected, alert sent"
	case model.DeliverySuppressed:
		return "fire detected, alert suppressed (recent alert for this source)"
	default:
		return "fire detected, alert delivery failed"
	}
}
