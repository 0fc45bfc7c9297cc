// Точка входа account-lifecycle — пакетная обработка неактивных
// привилегированных учёток AD и Entra ID.
//
// Команды:
//   - discover — собрать учётки из каталогов по префиксам и обработать
//   - reconcile — обработать список из файла (CSV/JSON) с живой сверкой
//
// Коды выхода: 0 — запуск успешен, 1 — запуск остановлен фатальной ошибкой,
// 2 — ошибка конфигурации или входных данных до начала запуска.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

const (
	exitSuccess   = 0
	exitRunFailed = 1
	exitUsage     = 2
)

// exitError — ошибка с кодом выхода процесса.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("код выхода %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err == nil {
		os.Exit(exitSuccess)
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil && ee.code != exitRunFailed {
			fmt.Fprintln(os.Stderr, "account-lifecycle:", ee.err)
		}
		os.Exit(ee.code)
	}
	fmt.Fprintln(os.Stderr, "account-lifecycle:", err)
	os.Exit(exitUsage)
}
