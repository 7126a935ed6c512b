package backend

// State tracks where a managed process is in its lifecycle. Transitions are
// driven only by the supervisor that owns the process.
type State int

const (
	Unstarted State = iota
	Starting
	Running
	Stopping
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case Unstarted:
		return "unstarted"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Active reports whether the process currently holds an OS process handle.
func (s State) Active() bool {
	return s == Starting || s == Running || s == Stopping
}

// Role identifies a process's place in the backend topology.
type Role string

const (
	RoleBroker Role = "broker"
	RoleWorker Role = "worker"
	RoleAPI    Role = "api"
)
