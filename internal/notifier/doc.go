// Package notifier delivers operator reports.
//
// A report is a title and a body. Reports are queued and sent by a small
// worker pool to every configured chat, under a global token bucket and with
// retry. Each title is sent at most once per TitleWindow; excess reports are
// dropped, not delayed.
//
// Reporter turns scheduler events on the bus into reports.
package notifier
