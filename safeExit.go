package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

var SafeExitInst *SafeExit

// InitSafeExit returns a context canceled by the first termination signal.
func InitSafeExit() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	SafeExitInst = &SafeExit{cancel: cancel}
	go SafeExitInst.ListenSignal()
	return ctx
}

// SafeExit cancels the running task on the first signal and runs the
// registered funcs before exiting on the second.
type SafeExit struct {
	funcs  []func()
	mu     sync.Mutex
	cancel context.CancelFunc
	done   bool
}

func (s *SafeExit) Register(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.funcs = append(s.funcs, f)
}

// Close runs the registered funcs once.
func (s *SafeExit) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return
	}
	s.done = true
	for i := len(s.funcs) - 1; i >= 0; i-- {
		s.funcs[i]()
	}
	s.cancel()
}

func (s *SafeExit) ListenSignal() {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	first := true
	for sig := range sigs {
		if first {
			first = false
			fmt.Fprintf(os.Stderr, "收到系统信号 %s, 正在停止任务, 请稍后\n", sig)
			s.cancel()
			continue
		}
		fmt.Fprintf(os.Stderr, "收到系统信号 %s, 立即退出\n", sig)
		s.Close()
		os.Exit(1)
	}
}
