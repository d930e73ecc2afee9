// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the readiness poller driving the event loop:
// epoll on Linux, an error-returning stub elsewhere.
package reactor
