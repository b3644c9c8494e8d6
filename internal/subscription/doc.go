// Package subscription tracks which agents are interested in which prompts.
//
// Manager owns subscribe, unsubscribe and the auto-subscribe side effect of
// reading prompt content. Notifier fans out one prompt.updated event per
// subscriber after a version is committed. Sweeper removes subscriptions that
// have not been pulled within the retention window.
//
// All three share nothing but the store. Auto-subscribe and notification are
// best effort: their failures are logged and counted, never returned to the
// operation that triggered them.
package subscription
