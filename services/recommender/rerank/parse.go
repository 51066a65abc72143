// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rerank

import "github.com/AleutianAI/fitbeat/services/llm"

type oracleEntry struct {
	Artist    string `json:"artist"`
	TrackName string `json:"track_name"`
}

type oracleResponse struct {
	RankedPlaylist []oracleEntry `json:"ranked_playlist"`
	Summary        string        `json:"summary"`
}

func parseOracleResponse(raw string) (oracleResponse, error) {
	var resp oracleResponse
	if err := llm.DecodeJSONObject(raw, &resp); err != nil {
		return oracleResponse{}, err
	}
	return resp, nil
}
