package api_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tonsentry/tonsentry/pkg/api"
	"github.com/tonsentry/tonsentry/pkg/faults"
)

func TestWriteError_ContentType(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteError(w, http.StatusBadRequest, "Bad Request", "field is missing")

	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("expected Content-Type 'application/problem+json', got %q", ct)
	}
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}

	var problem api.ProblemDetail
	if err := json.NewDecoder(w.Body).Decode(&problem); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if problem.Status != 400 {
		t.Errorf("expected problem.status=400, got %d", problem.Status)
	}
	if problem.Title != "Bad Request" {
		t.Errorf("expected title 'Bad Request', got %q", problem.Title)
	}
	if problem.Detail != "field is missing" {
		t.Errorf("expected detail 'field is missing', got %q", problem.Detail)
	}
}

func TestWriteInternal_SanitizesError(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteInternal(w, errors.New("pq: connection refused to 10.0.0.5"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "10.0.0.5") {
		t.Error("internal error detail leaked to the client")
	}
}

func TestWriteTooManyRequests_RetryAfter(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteTooManyRequests(w, 5)

	if got := w.Header().Get("Retry-After"); got != "5" {
		t.Errorf("expected Retry-After '5', got %q", got)
	}
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", w.Code)
	}
}

func TestWriteFault_Mapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: bad amount", faults.ErrInvalidArgument), http.StatusBadRequest},
		{fmt.Errorf("%w: envelope x", faults.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: not the approver", faults.ErrUnauthorized), http.StatusForbidden},
		{fmt.Errorf("%w: already rejected", faults.ErrInvalidState), http.StatusConflict},
		{fmt.Errorf("%w: 5 over", faults.ErrBudgetExceeded), http.StatusPaymentRequired},
		{fmt.Errorf("%w: retries exhausted", faults.ErrFacilitatorUnavailable), http.StatusBadGateway},
		{fmt.Errorf("%w: node down", faults.ErrChainSubmissionFailed), http.StatusBadGateway},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		api.WriteFault(w, tc.err)
		if w.Code != tc.status {
			t.Errorf("WriteFault(%v): expected %d, got %d", tc.err, tc.status, w.Code)
		}
	}
}
