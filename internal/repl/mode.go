package repl

// Mode decides which handler owns the next input line.
type Mode int

const (
	ModeNormal Mode = iota
	ModePickingFile
	ModePickingMcp
	ModePickingModel
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModePickingFile:
		return "picking-file"
	case ModePickingMcp:
		return "picking-mcp"
	case ModePickingModel:
		return "picking-model"
	}
	return "unknown"
}
