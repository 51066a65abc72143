// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP endpoints of the recommender
// service.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/fitbeat/services/orchestrator/agent"
	"github.com/AleutianAI/fitbeat/services/recommender/plan"
	"github.com/AleutianAI/fitbeat/services/recommender/playlist"
	"github.com/gin-gonic/gin"
)

// MaxTracks bounds num_tracks in a request.
const MaxTracks = 100

// Recommender serves playlist requests. agent.Agent implements it.
type Recommender interface {
	Recommend(ctx context.Context, req agent.Request) (*plan.State, error)
}

// PlaylistRequest is the body of POST /v1/playlist.
type PlaylistRequest struct {
	Prompt    string `json:"prompt" binding:"required"`
	NumTracks int    `json:"num_tracks" binding:"omitempty,min=1,max=100"`
	SessionID string `json:"session_id" binding:"omitempty,max=128"`
}

// TrackSummary is one track of a response.
type TrackSummary struct {
	Artist string  `json:"artist"`
	Track  string  `json:"track"`
	Genre  string  `json:"genre,omitempty"`
	Tempo  float64 `json:"tempo"`
	Energy float64 `json:"energy"`
}

// PlaylistResponse is the body of a successful POST /v1/playlist.
type PlaylistResponse struct {
	RunID     string              `json:"run_id"`
	Label     string              `json:"label"`
	Stage     string              `json:"stage,omitempty"`
	Steps     []string            `json:"steps"`
	Tracks    []TrackSummary      `json:"tracks"`
	Playlist  []playlist.Entry    `json:"playlist,omitempty"`
	Locations []string            `json:"locations,omitempty"`
	Retrieval *playlist.Retrieval `json:"retrieval,omitempty"`
}

// ErrorResponse is the body of a failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Step  string `json:"step,omitempty"`
	RunID string `json:"run_id,omitempty"`

	// Completed lists the steps that finished before the run aborted.
	Completed []string `json:"completed,omitempty"`
}

// NewPlaylistResponse converts a finished run.
func NewPlaylistResponse(state *plan.State) PlaylistResponse {
	resp := PlaylistResponse{
		RunID:     state.RunID,
		Label:     state.Label,
		Stage:     string(state.Stage),
		Steps:     plan.Plan(state.Completed).Names(),
		Tracks:    make([]TrackSummary, len(state.Tracks)),
		Retrieval: state.Retrieval,
	}
	for i, t := range state.Tracks {
		resp.Tracks[i] = TrackSummary{
			Artist: t.PrimaryArtist(),
			Track:  t.Title,
			Genre:  t.Genre,
			Tempo:  t.Tempo,
			Energy: t.Energy,
		}
	}
	if state.Playlist != nil {
		resp.Playlist = state.Playlist.Entries
		resp.Locations = state.Playlist.Locations
	}
	return resp
}

// HandleRecommend serves POST /v1/playlist.
//
// # Description
//
// Runs the agent for the prompt and returns the final tracks with the
// playlist table when one was built.
//
// # Outputs
//
//   - 200: PlaylistResponse.
//   - 400: Malformed body.
//   - 422: The plan could not run (unknown step or unmet precondition).
//   - 500: A step failed.
//   - 504: The request deadline passed.
func HandleRecommend(rec Recommender) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req PlaylistRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request: " + err.Error()})
			return
		}

		state, err := rec.Recommend(c.Request.Context(), agent.Request{
			Prompt:    req.Prompt,
			NumTracks: req.NumTracks,
			Session:   req.SessionID,
		})
		if err != nil {
			status, body := errorResponse(err)
			if state != nil {
				body.RunID = state.RunID
				body.Completed = plan.Plan(state.Completed).Names()
			}
			slog.Warn("Playlist request failed", "status", status, "error", err)
			c.JSON(status, body)
			return
		}

		c.JSON(http.StatusOK, NewPlaylistResponse(state))
	}
}

func errorResponse(err error) (int, ErrorResponse) {
	var execErr *plan.ExecutionError
	switch {
	case errors.Is(err, agent.ErrEmptyPrompt):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrorResponse{Error: "request timed out"}
	case errors.Is(err, context.Canceled):
		return 499, ErrorResponse{Error: "request cancelled"}
	case errors.As(err, &execErr):
		body := ErrorResponse{Error: err.Error(), Kind: string(execErr.Kind), Step: execErr.Name}
		if execErr.Kind == plan.KindStepFailed {
			return http.StatusInternalServerError, body
		}
		return http.StatusUnprocessableEntity, body
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: err.Error()}
	}
}
