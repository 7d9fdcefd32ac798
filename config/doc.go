// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package config loads gateway configuration from the environment and an
// optional YAML file. Environment variables win over file values, file
// values win over defaults.
package config
