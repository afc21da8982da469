// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientRequiresConfig(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		username string
		password string
	}{
		{"missing host", "", "admin", "secret"},
		{"missing username", "http://localhost:8080", "", "secret"},
		{"missing password", "http://localhost:8080", "admin", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.host, tt.username, tt.password)
			assert.ErrorIs(t, err, ErrNotConfigured)
		})
	}

	client, err := NewClient("http://localhost:8080", "admin", "secret")
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestInfoHashFromMagnet(t *testing.T) {
	tests := []struct {
		name    string
		magnet  string
		want    string
		wantErr bool
	}{
		{
			name:   "hex hash",
			magnet: "magnet:?xt=urn:btih:C12FE1C06BBA254A9DC9F519B335AA7C1367A88A&dn=sample",
			want:   "c12fe1c06bba254a9dc9f519b335aa7c1367a88a",
		},
		{
			name:   "hash in later parameter",
			magnet: "magnet:?dn=sample&xt=urn:btih:c12fe1c06bba254a9dc9f519b335aa7c1367a88a",
			want:   "c12fe1c06bba254a9dc9f519b335aa7c1367a88a",
		},
		{
			name:   "base32 hash",
			magnet: "magnet:?xt=urn:btih:YEX6DQDLXISUVHOJ6UM3GNNKPQJWPKEK",
			want:   "c12fe1c06bba254a9dc9f519b335aa7c1367a88a",
		},
		{
			name:    "no btih",
			magnet:  "magnet:?dn=sample",
			wantErr: true,
		},
		{
			name:    "garbage hash",
			magnet:  "magnet:?xt=urn:btih:nothexnorbase32",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := InfoHashFromMagnet(tt.magnet)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
