//go:build !linux
// +build !linux

package sched

import "github.com/temoto/wearable/log2"

type threadHint struct{}

func newThreadHint(enable bool, log *log2.Log) *threadHint {
	if enable {
		log.Debugf("sched os priority hint is not supported on this platform")
	}
	return &threadHint{}
}

func (*threadHint) apply(Priority) {}
func (*threadHint) release()       {}
