// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package logger provides structured JSON logging shared by all gateway
// components. Entries are written one JSON object per line to stdout so
// the container runtime can ship them unmodified.
package logger
