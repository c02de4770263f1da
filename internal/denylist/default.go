package denylist

// DefaultPatterns contains the built-in denylist patterns.
// Files are protected even in privileged mode; programs and commands are
// lifted by privileged mode.
var DefaultPatterns = Patterns{
	Files: []string{
		"~/.ssh/**",
		"~/.aws/credentials",
		"~/.gnupg/**",
		"**/.env",
		"**/.env.local",
		"**/credentials.json",
		"**/*.kdbx",
		"**/.git/**",
	},
	Programs: []string{
		"sudo",
		"su",
		"doas",
		"rm",
		"format",
		"regedit",
		"diskpart",
		"bash",
		"sh",
		"mkfs",
		"fdisk",
		"dd",
		"shutdown",
		"reboot",
		"taskkill",
	},
	Commands: []string{
		"rm -rf /",
		"rm -rf ~",
		"dd if=/dev/zero",
		":(){ :|:& };:",
		"mkfs.",
		"> /dev/sda",
		"chmod -r 777 /",
		"curl|sh",
		"wget|sh",
		"printenv",
		"/proc/self/environ",
	},
}
