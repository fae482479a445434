// Copyright 2016 Aleksandr Demakin. All rights reserved.

package msgq

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nxgtw/go-dsplink"
)

const (
	gppPrefix   = "DSPLINK_GPPMSGQ"
	dspPrefix   = "DSPLINK_DSP"
	msgqInfix   = "MSGQ"
	dspQueueFmt = "DSPLINK_DSP%02dMSGQ%02d"
	gppQueueFmt = "DSPLINK_GPPMSGQ%02d"
)

// DspQueueName returns the conventional name of a queue created on a DSP.
func DspQueueName(dsp, index int) string {
	return fmt.Sprintf(dspQueueFmt, dsp, index)
}

// GppQueueName returns the conventional name of a queue created on the GPP.
func GppQueueName(index int) string {
	return fmt.Sprintf(gppQueueFmt, index)
}

// ParseQueueName extracts the processor id and the index from a conventional queue name.
func ParseQueueName(name string) (procID, index int, ok bool) {
	if rest := strings.TrimPrefix(name, gppPrefix); rest != name {
		if idx, ok := parseIndex(rest); ok {
			return dsplink.IDGpp, idx, true
		}
		return 0, 0, false
	}
	rest := strings.TrimPrefix(name, dspPrefix)
	if rest == name || len(rest) < 2 {
		return 0, 0, false
	}
	dsp, ok := parseIndex(rest[:2])
	if !ok || dsp >= dsplink.MaxDsps || !strings.HasPrefix(rest[2:], msgqInfix) {
		return 0, 0, false
	}
	if idx, ok := parseIndex(rest[2+len(msgqInfix):]); ok {
		return dsp, idx, true
	}
	return 0, 0, false
}

func parseIndex(s string) (int, bool) {
	if len(s) < 2 {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 || s[0] == '+' {
		return 0, false
	}
	return v, true
}

func checkName(name string) bool {
	return len(name) > 0 && len(name) <= dsplink.MaxQueueNameLen
}
