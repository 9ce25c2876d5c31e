// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package docproc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalProcessor_EchoesContentAndMetadata(t *testing.T) {
	p := NewLocalProcessor()

	result, err := p.Process(context.Background(), Upload{
		Filename: "report.pdf",
		Content:  []byte("some bytes"),
		Flags:    Flags{OCR: true},
	})

	require.NoError(t, err)
	assert.Equal(t, "some bytes", result.Content)
	assert.Equal(t, "report.pdf", result.Metadata["filename"])
	assert.Equal(t, "10", result.Metadata["size"])
	assert.Empty(t, result.Sections)
	assert.Empty(t, result.Tables)
}

func TestLocalProcessor_EmptyUpload(t *testing.T) {
	p := NewLocalProcessor()

	result, err := p.Process(context.Background(), Upload{Filename: "empty.txt"})

	require.NoError(t, err)
	assert.Equal(t, "", result.Content)
	assert.Equal(t, "0", result.Metadata["size"])
}
