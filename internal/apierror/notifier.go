package apierror

import "sync"

// SessionExpiredNotifier invokes a registered callback the first time an
// auth-expired failure is observed. Subsequent notifications are dropped so
// the host application is interrupted at most once per client lifetime.
type SessionExpiredNotifier struct {
	mutex    sync.Mutex
	fired    bool
	callback func(*APIError)
}

// Register installs the callback. A nil callback disables notification.
func (notifier *SessionExpiredNotifier) Register(callback func(*APIError)) {
	notifier.mutex.Lock()
	defer notifier.mutex.Unlock()
	notifier.callback = callback
}

// Observe inspects a classified failure and fires the callback on the first
// auth-expired occurrence. It always returns the failure unchanged.
func (notifier *SessionExpiredNotifier) Observe(failure *APIError) *APIError {
	if failure == nil || failure.Kind != KindAuthExpired {
		return failure
	}

	notifier.mutex.Lock()
	alreadyFired := notifier.fired
	notifier.fired = true
	callback := notifier.callback
	notifier.mutex.Unlock()

	if !alreadyFired && callback != nil {
		callback(failure)
	}
	return failure
}
