package runner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// lineCollector is an io.Writer that buffers partial writes and invokes
// onLine for each complete newline-terminated line, mirroring the
// selector-driven readline loop of the original tool without polling.
type lineCollector struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	onLine func(line string)
}

func (c *lineCollector) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Write(p)
	for {
		data := c.buf.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := string(data[:idx+1])
		c.buf.Next(idx + 1)
		c.onLine(line)
	}
	return len(p), nil
}

func (c *lineCollector) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buf.Len() > 0 {
		c.onLine(c.buf.String())
		c.buf.Reset()
	}
}

// supervisionResult is the outcome of running one scenario subprocess to
// completion or timeout.
type supervisionResult struct {
	ExitCode     *int
	TimedOut     bool
	BankResults  []BankResult
	TelemetryOut string
}

// superviseProcess runs cmd to completion, tee-ing combined stdout/stderr
// into logPath and parsing BANK:/TELEMETRY_OUT: lines as they arrive. A
// hard timeout kills the process; if it has not been reaped five seconds
// after the kill signal, the run is reported with exit code 124 without
// blocking further, matching the original tool's best-effort wait.
func superviseProcess(ctx context.Context, binary string, args []string, env []string, logPath string, timeout time.Duration) (supervisionResult, error) {
	logHandle, err := os.Create(logPath)
	if err != nil {
		return supervisionResult{}, fmt.Errorf("create stdout log: %w", err)
	}
	defer logHandle.Close()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var result supervisionResult
	collector := &lineCollector{onLine: func(line string) {
		logHandle.WriteString(line)
		trimmed := strings.TrimSpace(line)
		if bank := ParseBankLine(trimmed); bank != nil {
			result.BankResults = append(result.BankResults, *bank)
		}
		if rest, ok := strings.CutPrefix(trimmed, "TELEMETRY_OUT:"); ok {
			result.TelemetryOut = strings.TrimSpace(rest)
		}
	}}

	cmd := exec.CommandContext(runCtx, binary, args...)
	cmd.Env = env
	cmd.Stdout = collector
	cmd.Stderr = collector

	if err := cmd.Start(); err != nil {
		return supervisionResult{}, fmt.Errorf("start process: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	select {
	case err := <-waitErr:
		collector.flush()
		code := exitCodeFromWaitErr(cmd, err)
		result.ExitCode = &code
		result.TimedOut = runCtx.Err() == context.DeadlineExceeded
		return result, nil
	case <-runCtx.Done():
	}

	logHandle.WriteString(fmt.Sprintf("HEADLESSCTL: timeout after %s\n", timeout))
	result.TimedOut = true

	select {
	case err := <-waitErr:
		collector.flush()
		code := exitCodeFromWaitErr(cmd, err)
		result.ExitCode = &code
	case <-time.After(5 * time.Second):
		code := ExitHardKillTimeout
		result.ExitCode = &code
	}

	return result, nil
}

func exitCodeFromWaitErr(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if err != nil {
		return 1
	}
	return 0
}

