package splash

import _ "embed"

// The Lua scripts are part of the external contract with the rendering
// service and are versioned with the code.

//go:embed scripts/accept_invite.lua
var acceptInviteScript string

//go:embed scripts/send_reply.lua
var sendReplyScript string

//go:embed scripts/send_new_message.lua
var sendNewMessageScript string
