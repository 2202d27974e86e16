package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE flows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'published', 'testing', 'archived')),
				current_version VARCHAR(50) NOT NULL,
				owner VARCHAR(255) NOT NULL DEFAULT '',
				tags JSONB NOT NULL DEFAULT '[]',
				nodes JSONB NOT NULL DEFAULT '[]',
				has_unsaved_changes BOOLEAN NOT NULL DEFAULT false,
				draft_notes TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				published_at TIMESTAMP WITH TIME ZONE,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_flows_status ON flows(status);
			CREATE INDEX idx_flows_owner ON flows(owner);
			CREATE INDEX idx_flows_created_at ON flows(created_at);
			CREATE INDEX idx_flows_deleted_at ON flows(deleted_at);

			-- Versions are append-only snapshots; ordinal 0 is the oldest.
			CREATE TABLE flow_versions (
				flow_id VARCHAR(255) NOT NULL REFERENCES flows(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				ordinal INT NOT NULL,
				label VARCHAR(50) NOT NULL,
				author VARCHAR(255) NOT NULL DEFAULT '',
				node_count INT NOT NULL,
				notes TEXT NOT NULL DEFAULT '',
				nodes JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (flow_id, id)
			);

			CREATE INDEX idx_flow_versions_ordinal ON flow_versions(flow_id, ordinal);
		`,
	}
}
