//go:build !lockrank

package isp

func acquireRank(lockRank) {}

func releaseRank(lockRank) {}
