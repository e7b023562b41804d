/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package gateway

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/samber/lo"
)

// Sender performs the actual delivery of one message.
type Sender interface {
	Send(ctx context.Context, toHandle, body string) error
}

const (
	handlePlaceholder = "{to_handle}"
	bodyPlaceholder   = "{body}"
)

// osascript drives Messages.app; the recipient and text are passed as argv
// so no shell quoting of message content is involved.
var defaultSendArgv = []string{
	"osascript",
	"-e", `on run {targetHandle, messageBody}`,
	"-e", `tell application "Messages"`,
	"-e", `set targetService to 1st account whose service type = iMessage`,
	"-e", `set targetBuddy to participant targetHandle of targetService`,
	"-e", `send messageBody to targetBuddy`,
	"-e", `end tell`,
	"-e", `end run`,
	handlePlaceholder,
	bodyPlaceholder,
}

// CommandSender delivers by executing a command template. Each argv element
// has {to_handle} and {body} substituted per message.
type CommandSender struct {
	argv []string
}

// NewCommandSender builds a sender from a whitespace-separated command
// template. An empty template selects the built-in osascript iMessage sender.
func NewCommandSender(template string) (*CommandSender, error) {
	if template == "" {
		return &CommandSender{argv: defaultSendArgv}, nil
	}
	argv := strings.Fields(template)
	if len(argv) == 0 {
		return nil, fmt.Errorf("send command template is blank")
	}
	return &CommandSender{argv: argv}, nil
}

func (c *CommandSender) Send(ctx context.Context, toHandle, body string) error {
	argv := lo.Map(c.argv, func(arg string, _ int) string {
		arg = strings.ReplaceAll(arg, handlePlaceholder, toHandle)
		return strings.ReplaceAll(arg, bodyPlaceholder, body)
	})
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("running send command, %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
