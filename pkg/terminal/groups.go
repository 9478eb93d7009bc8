package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	evalCmds
	dataCmds
	targetCmds
	scriptCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Evaluating and assigning expressions", evalCmds},
	{"Viewing registers, memory and modules", dataCmds},
	{"Managing the target", targetCmds},
	{"Scripting", scriptCmds},
	{"Other commands", otherCmds},
}
