package sandbox

import "fmt"

// Limits are the hard resource caps applied to the sandboxed process via
// rlimits. The address-space cap deliberately leaves headroom above what
// student code is allowed to allocate, so a checker can still report a clean
// out-of-memory message instead of being killed first.
type Limits struct {
	FileSizeKB        int
	MaxOpenFiles      int
	MaxProcesses      int
	CpuTimeSec        int
	AddressSpaceBytes int64
}

func DefaultLimits() Limits {
	return Limits{
		FileSizeKB:        8192,
		MaxOpenFiles:      100,
		MaxProcesses:      2000,
		CpuTimeSec:        20,
		AddressSpaceBytes: 1610612736, // 1.5 GiB
	}
}

func (l *Limits) ToArgs() []string {
	return []string{
		l.FileSizeArg(),
		l.OpenFilesArg(),
		l.ProcessesArg(),
		l.CpuTimeArg(),
		l.AddressSpaceArg(),
	}
}

func (l *Limits) FileSizeArg() string {
	return fmt.Sprintf("--rlimit-fsize=%d", l.FileSizeKB)
}

func (l *Limits) OpenFilesArg() string {
	return fmt.Sprintf("--rlimit-nofile=%d", l.MaxOpenFiles)
}

func (l *Limits) ProcessesArg() string {
	return fmt.Sprintf("--rlimit-nproc=%d", l.MaxProcesses)
}

func (l *Limits) CpuTimeArg() string {
	return fmt.Sprintf("--rlimit-cpu=%d", l.CpuTimeSec)
}

func (l *Limits) AddressSpaceArg() string {
	return fmt.Sprintf("--rlimit-as=%d", l.AddressSpaceBytes)
}
