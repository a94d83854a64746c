package sched

func priorityNice(p Priority) int {
	const top = 9
	nice := top - int(p)
	if nice < 0 {
		return 0
	}
	if nice > 19 {
		return 19
	}
	return nice
}
