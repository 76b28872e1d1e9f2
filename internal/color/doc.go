// Package color provides the terminal palette for fwdctl output.
//
// Styles are lipgloss styles with adaptive colors, so the same palette reads
// well on dark and light terminals. lipgloss honors NO_COLOR and degrades to
// plain text when stdout is not a terminal.
//
// # Usage Example
//
//	color.Initialize(lipgloss.HasDarkBackground())
//	fmt.Println(color.Success("✓ port 443 forwarded"))
//	fmt.Println(color.Error("✗ port 80: socat is not installed"))
package color
