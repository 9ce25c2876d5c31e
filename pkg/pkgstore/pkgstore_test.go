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

package pkgstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/forge/pkg/pkgmodel"
)

func samplePKG(projectID, gitSHA string) *pkgmodel.PKG {
	return &pkgmodel.PKG{
		Version:     pkgmodel.CurrentVersion,
		GeneratedAt: time.Now().UTC(),
		GitSHA:      gitSHA,
		Project:     pkgmodel.Project{ID: projectID, Name: projectID},
	}
}

func TestSaveLoad_SessionCacheHit(t *testing.T) {
	store := New(nil, nil)
	root := t.TempDir()
	pkg := samplePKG("demo", "abc123")

	require.NoError(t, store.Save(context.Background(), root, pkg))

	loaded, source := store.Load(context.Background(), root, "demo", "abc123")
	require.NotNil(t, loaded)
	assert.Equal(t, "session", source)
	assert.Equal(t, "demo", loaded.Project.ID)
}

func TestLoad_FileCacheHitAfterSessionInvalidated(t *testing.T) {
	store := New(nil, nil)
	root := t.TempDir()
	pkg := samplePKG("demo", "abc123")

	require.NoError(t, store.Save(context.Background(), root, pkg))
	store.InvalidateSession("demo")

	loaded, source := store.Load(context.Background(), root, "demo", "abc123")
	require.NotNil(t, loaded)
	assert.Equal(t, "filecache", source)
}

func TestLoad_FileCacheInvalidatedByShaMismatch(t *testing.T) {
	store := New(nil, nil)
	root := t.TempDir()
	pkg := samplePKG("demo", "abc123")

	require.NoError(t, store.Save(context.Background(), root, pkg))
	store.InvalidateSession("demo")

	loaded, source := store.Load(context.Background(), root, "demo", "different-sha")
	assert.Nil(t, loaded)
	assert.Equal(t, "regenerate", source)
}

func TestLoad_NonGitTreeBothShasEmptyTreatedInvalid(t *testing.T) {
	store := New(nil, nil)
	root := t.TempDir()
	pkg := samplePKG("demo", "")

	require.NoError(t, store.Save(context.Background(), root, pkg))
	store.InvalidateSession("demo")

	loaded, source := store.Load(context.Background(), root, "demo", "")
	assert.Nil(t, loaded)
	assert.Equal(t, "regenerate", source)
}

func TestLoad_Miss(t *testing.T) {
	store := New(nil, nil)
	root := t.TempDir()

	loaded, source := store.Load(context.Background(), root, "nonexistent", "abc123")
	assert.Nil(t, loaded)
	assert.Equal(t, "regenerate", source)
}
