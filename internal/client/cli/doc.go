// Package cli is the interactive lettera front end.
//
// App reads commands and chat lines from one input stream. Lines starting
// with "/" are commands; any other line is sent to the active chat. While a
// chat is active a watcher prints incoming notes as they are stored.
//
//	/help                 show commands
//	/list-accounts        list mail accounts
//	/list-friends         list friends
//	/list-chats           list chats
//	/setup-account        add or update an account (wizard)
//	/setup-friend         add or update a friend (wizard)
//	/chat [id]            open a chat, creating it if needed
//	/history              print the active chat
//	/close                stop the active chat
//	/exit                 leave
package cli
