package channels

// TrySend never blocks; it reports whether the value was queued.
func TrySend[T any](c chan<- T, value T) bool {
	select {
	case c <- value:
		return true
	default:
		return false
	}
}
