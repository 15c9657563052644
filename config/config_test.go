// Copyright (c) 2016-2019 Uber Technologies, Inc.
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
package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyDefaultsFillsDiskConfig(t *testing.T) {
	require := require.New(t)

	c := Config{}.applyDefaults()
	require.EqualValues(200, c.Disk.MaxQueuedWrites)
	require.Equal(4, c.Disk.MaxConcurrentWrites)
}

func TestApplyDefaultsPreservesExplicitValues(t *testing.T) {
	require := require.New(t)

	c := Config{Disk: DiskConfig{MaxQueuedWrites: 5, MaxConcurrentWrites: 1}}.applyDefaults()
	require.EqualValues(5, c.Disk.MaxQueuedWrites)
	require.Equal(1, c.Disk.MaxConcurrentWrites)
}
