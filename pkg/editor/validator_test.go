// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package editor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_ValidPythonPasses(t *testing.T) {
	result := validate("app.py", []byte("def handler():\n    return 1\n"), "unknown")
	assert.True(t, result.OK)
	assert.Empty(t, result.Fatal)
}

func TestValidate_MalformedTypeScriptIsFatal(t *testing.T) {
	result := validate("widget.ts", []byte("function broken( {"), "unknown")
	assert.False(t, result.OK)
	assert.NotEmpty(t, result.Fatal)
}

func TestValidate_UnrecognizedExtensionWarnsOnly(t *testing.T) {
	result := validate("notes.txt", []byte("anything goes"), "unknown")
	assert.True(t, result.OK)
	assert.Contains(t, result.Warnings[0], "unrecognized file extension")
}

func TestValidate_RegexLanguageFallsBackToBraceCheck(t *testing.T) {
	bad := validate("Widget.java", []byte("class Widget { void run() {"), "unknown")
	assert.False(t, bad.OK)

	good := validate("Widget.java", []byte("class Widget { void run() {} }"), "unknown")
	assert.True(t, good.OK)
}

func TestValidate_FlaskWithoutBlueprintWarns(t *testing.T) {
	result := validate("routes.py", []byte("def index():\n    return 'hi'\n"), "flask")
	assert.True(t, result.OK)
	assert.Contains(t, result.Warnings[0], "Blueprint")
}

func TestValidate_AngularComponentWithoutDecoratorWarns(t *testing.T) {
	result := validate("widget.component.ts", []byte("export class Widget {}\n"), "angular")
	assert.True(t, result.OK)
	assert.Contains(t, result.Warnings[0], "@Component")
}

func TestValidate_EmptyContentWarns(t *testing.T) {
	result := validate("empty.py", []byte(""), "unknown")
	assert.True(t, result.OK)
	found := false
	for _, w := range result.Warnings {
		if w == "generated file is empty" {
			found = true
		}
	}
	assert.True(t, found)
}
