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

// Package docproc preserves the document-processing service boundary
// spec §6 names (file upload, OCR, table/image extraction, chunking)
// without implementing it: that surface is an external collaborator per
// spec.md's explicit Non-goals, so the only thing the core needs from
// this package is a stable interface to call through.
package docproc

import (
	"context"
	"strconv"
)

// Upload is a single file submitted for processing, identified by name
// and carrying its raw bytes plus caller-supplied flags.
type Upload struct {
	Filename string
	Content  []byte
	Flags    Flags
}

// Flags mirrors spec §6's "optional processing flags": OCR, output
// format, table/image extraction, chunking parameters.
type Flags struct {
	OCR             bool
	OutputFormat    string
	ExtractTables   bool
	ExtractImages   bool
	ChunkSizeTokens int
}

// Result is the service boundary's output contract (spec §6):
// `{metadata, content, sections?, tables?, images?, chunks?}`.
type Result struct {
	Metadata map[string]string `json:"metadata"`
	Content  string            `json:"content"`
	Sections []string          `json:"sections,omitempty"`
	Tables   []string          `json:"tables,omitempty"`
	Images   []string          `json:"images,omitempty"`
	Chunks   []string          `json:"chunks,omitempty"`
}

// Processor is the document-processing boundary the orchestrator calls
// through. OCR, table/image extraction, and chunking are out of scope
// per spec.md; an implementation only needs to honor the shape.
type Processor interface {
	Process(ctx context.Context, upload Upload) (Result, error)
}

// LocalProcessor is a no-op Processor: it echoes the upload's raw bytes
// back as Content with minimal metadata, exercising the boundary without
// doing OCR, table/image extraction, or chunking.
type LocalProcessor struct{}

// NewLocalProcessor returns the stub Processor implementation.
func NewLocalProcessor() *LocalProcessor {
	return &LocalProcessor{}
}

func (p *LocalProcessor) Process(_ context.Context, upload Upload) (Result, error) {
	return Result{
		Metadata: map[string]string{
			"filename": upload.Filename,
			"size":     strconv.Itoa(len(upload.Content)),
		},
		Content: string(upload.Content),
	}, nil
}
