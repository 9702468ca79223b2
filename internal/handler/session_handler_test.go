package handler

import (
	"context"
	"testing"

	"github.com/coursely/coursely-backend/internal/model"
	"github.com/coursely/coursely-backend/internal/proctor"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendCommandReportsDelivery(t *testing.T) {
	payload := &model.AssignmentPayload{
		Assignment: model.Assignment{ID: uuid.New(), CourseID: uuid.New(), Title: "Essay"},
	}
	ctrl := proctor.New(proctor.Config{
		Payload: payload,
		Submit: func(context.Context, string, []model.Answer) (*model.Submission, error) {
			return &model.Submission{ID: uuid.New(), Status: model.SubmissionStatusSubmitted}, nil
		},
		Clock: proctor.NewClock(),
		Log:   zerolog.Nop(),
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctrl.Run(context.Background())
	}()

	require.True(t, sendCommand(ctrl, proctor.Command{Action: proctor.ActionSubmit}),
		"a live session must accept commands")
	for range ctrl.Events() {
	}
	<-done

	// Frames arriving after the session ended are refused, not queued.
	assert.False(t, sendCommand(ctrl, proctor.Command{Action: proctor.ActionViolation}))
}
