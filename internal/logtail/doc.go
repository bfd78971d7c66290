/*
Package logtail reads the agent debug log incrementally while the agent keeps
writing and rotating it.

# Rotation model

The agent rotates its log by renaming the live file to a numbered sibling and
starting a fresh file at the original path:

	nsdebuglog.log     live file
	nsdebuglog.1.log   previous generation
	...
	nsdebuglog.10.log  oldest kept generation

The Tailer remembers a byte offset together with the identity of the file that
offset belongs to (os.SameFile semantics, inode or file index). When the live
path no longer refers to the remembered file, the remainder of the old file is
located among the siblings and delivered first, followed by any generation that
was rotated in between, and only then the new live file from offset 0.

# Guarantees

Across any sequence of appends, rotations and ReadNew calls, the concatenation
of everything ReadNew returned equals what was written: nothing is skipped and
nothing is delivered twice. A trailing partial UTF-8 sequence in the live file
is held back until its remaining bytes arrive. Invalid bytes are replaced with
U+FFFD and never fail a read. A missing file reads as empty.

# Seeking

SeekToNow ignores history. SeekToTimeBuffer positions the cursor after the most
recent line older than the requested window, scanning backward in 1 MiB chunks
(at most 50 MiB per file) through the live file and then the siblings. Siblings
that must be drained before the live file are queued as pending segments.

A Tailer is safe for concurrent use, but its cursor is a single stream:
two consumers sharing one Tailer split the content between them.
*/
package logtail
