package tasks

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/voicegrid/transched/internal/pkg/cmdapp"
	"github.com/pkg/errors"
)

// Runner executes external commands. The reap lock, when set, keeps the
// child reaper from stealing exit statuses of running commands
type Runner struct {
	reapLock *sync.RWMutex
}

// NewRunner inits new runner instance
func NewRunner(reapLock *sync.RWMutex) *Runner {
	return &Runner{reapLock: reapLock}
}

// Run starts the command and waits for it to finish, returning combined output
func (r *Runner) Run(ctx context.Context, command, workingDir string, envs []string) (string, error) {
	cmdapp.Log.Infof("Running command: %s", command)
	cmdArr := strings.Fields(command)
	if len(cmdArr) < 1 {
		return "", errors.Errorf("Wrong or no command '%s'", command)
	}

	cmd := exec.CommandContext(ctx, cmdArr[0], cmdArr[1:]...)
	cmd.Dir = workingDir
	cmd.Env = os.Environ()
	for _, env := range envs {
		cmdapp.Log.Debug("Append env: " + env)
		cmd.Env = append(cmd.Env, env)
	}

	if r.reapLock != nil {
		r.reapLock.RLock()
		defer r.reapLock.RUnlock()
	}
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), errors.Wrap(err, "Output: "+string(output))
	}
	return string(output), nil
}
