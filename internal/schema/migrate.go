package schema

// TaskSchemaVersion is the version reached after every migration step ran.
const TaskSchemaVersion = 3

// taskMigration backfills one field introduced at version.
type taskMigration struct {
	version int
	name    string
	apply   func(*Task)
}

// taskMigrations is ordered by version. Every step must be idempotent because
// tasks carry no stored version and are migrated on each load.
var taskMigrations = []taskMigration{
	{
		version: 1,
		name:    "default-priority",
		apply: func(t *Task) {
			if t.Priority == "" {
				t.Priority = Medium
			}
		},
	},
	{
		version: 2,
		name:    "default-status",
		apply: func(t *Task) {
			if t.Status == "" {
				t.Status = Pending
			}
		},
	},
	{
		version: 3,
		name:    "default-enterprise",
		apply: func(t *Task) {
			if t.EnterpriseType == "" {
				t.EnterpriseType = General
			}
		},
	},
}

// MigrateTask returns t with every migration step applied.
func MigrateTask(t Task) Task {
	for _, m := range taskMigrations {
		m.apply(&t)
	}
	return t
}

// MigrateTasks migrates every task into a new slice. A nil input yields an
// empty slice.
func MigrateTasks(tasks []Task) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, MigrateTask(t))
	}
	return out
}

// MigrationNames lists the migration steps in the order they run.
func MigrationNames() []string {
	names := make([]string, 0, len(taskMigrations))
	for _, m := range taskMigrations {
		names = append(names, m.name)
	}
	return names
}
