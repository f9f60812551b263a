// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package debugger

import (
	"io"

	"github.com/sirupsen/logrus"
)

// EventDumper is a diagnostic Listener that renders every dispatched debug
// event at debug level, for verbose troubleshooting of the event pump. It
// never claims to have handled an event.
type EventDumper struct {
	logger *logrus.Logger
}

// NewEventDumper builds a dumper that logs through logger. A nil logger
// falls back to a discarding logger, so callers that want the dumper
// registered unconditionally (then silenced via level) need not nil-check.
func NewEventDumper(logger *logrus.Logger) *EventDumper {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &EventDumper{logger: logger}
}

// OnEvent implements Listener.
func (d *EventDumper) OnEvent(ev Event) bool {
	entry := d.logger.WithFields(logrus.Fields{
		"pid": ev.ProcessID,
		"tid": ev.ThreadID,
	})

	switch ev.Kind {
	case EventCreateProcess:
		entry.WithFields(logrus.Fields{
			"base":  ev.CreateProcess.BaseOfImage,
			"start": ev.CreateProcess.StartAddress,
		}).Debug("CREATE_PROCESS_DEBUG_EVENT")
	case EventCreateThread:
		entry.WithField("start", ev.CreateThread.StartAddress).Debug("CREATE_THREAD_DEBUG_EVENT")
	case EventExitThread:
		entry.WithField("exit_code", ev.ExitThread.ExitCode).Debug("EXIT_THREAD_DEBUG_EVENT")
	case EventExitProcess:
		entry.WithField("exit_code", ev.ExitProcess.ExitCode).Debug("EXIT_PROCESS_DEBUG_EVENT")
	case EventLoadDLL:
		entry.WithField("base", ev.LoadDLL.BaseOfDLL).Debug("LOAD_DLL_DEBUG_EVENT")
	case EventUnloadDLL:
		entry.WithField("base", ev.UnloadDLL.BaseOfDLL).Debug("UNLOAD_DLL_DEBUG_EVENT")
	case EventException:
		entry.WithFields(logrus.Fields{
			"code":         ev.Exception.Code,
			"address":      ev.Exception.Address,
			"first_chance": ev.Exception.FirstChance,
		}).Debug("EXCEPTION_DEBUG_EVENT")
	case EventOutputDebugString:
		entry.Debug("OUTPUT_DEBUG_STRING_EVENT")
	case EventRIP:
		entry.Debug("RIP_EVENT")
	default:
		entry.Debug("unrecognized debug event")
	}

	return false
}
