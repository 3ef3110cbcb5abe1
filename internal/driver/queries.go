package driver

const nodeColumns = `
		n.uid AS uid,
		n.name AS name,
		n.category AS category,
		n.dedup_key AS dedup_key,
		n.entity_type AS entity_type,
		n.wiki_classes AS wiki_classes,
		n.reference_url AS reference_url,
		n.knowledge_base_uri AS knowledge_base_uri,
		n.created_at AS created_at`

const (
	FindEntityByDedupKeyQuery = `
		MATCH (n:Entity {dedup_key: $dedup_key})
		RETURN` + nodeColumns

	// CreateEntityQuery only writes when the key is new; created is false
	// when an existing node was matched.
	CreateEntityQuery = `
		MERGE (n:Entity {dedup_key: $dedup_key})
		ON CREATE SET n.uid = $uid,
			n.name = $name,
			n.category = $category,
			n.entity_type = $entity_type,
			n.wiki_classes = $wiki_classes,
			n.reference_url = $reference_url,
			n.knowledge_base_uri = $knowledge_base_uri,
			n.created_at = $created_at
		RETURN n.uid = $uid AS created,` + nodeColumns

	MergeEntityAttributesQuery = `
		MATCH (n:Entity {uid: $uid})
		SET n.entity_type = coalesce($entity_type, n.entity_type),
			n.wiki_classes = coalesce($wiki_classes, n.wiki_classes),
			n.reference_url = coalesce($reference_url, n.reference_url),
			n.knowledge_base_uri = coalesce($knowledge_base_uri, n.knowledge_base_uri)
		RETURN` + nodeColumns

	OverwriteEntityAttributesQuery = `
		MATCH (n:Entity {uid: $uid})
		SET n.entity_type = $entity_type,
			n.wiki_classes = $wiki_classes,
			n.reference_url = $reference_url,
			n.knowledge_base_uri = $knowledge_base_uri
		RETURN` + nodeColumns

	GetEntityQuery = `
		MATCH (n:Entity {uid: $uid})
		RETURN` + nodeColumns

	ListEntitiesQuery = `
		MATCH (n:Entity)
		WHERE $category IS NULL OR n.category = $category
		RETURN` + nodeColumns + `
		ORDER BY created_at, uid`

	DeleteEntityQuery = `
		MATCH (n:Entity {uid: $uid})
		WITH n, n.uid AS uid
		DETACH DELETE n
		RETURN count(uid) AS deleted`

	// CreateCoOccurrenceQuery yields no row when either endpoint is missing.
	CreateCoOccurrenceQuery = `
		MATCH (a:Entity {uid: $uid_a})
		MATCH (b:Entity {uid: $uid_b})
		MERGE (a)-[r:CO_OCCURS]-(b)
		ON CREATE SET r.token = $token, r.created_at = $created_at
		RETURN r.token = $token AS created`

	ListCoOccurrencesQuery = `
		MATCH (a:Entity)-[r:CO_OCCURS]-(b:Entity)
		WHERE a.uid < b.uid AND ($uid IS NULL OR a.uid = $uid OR b.uid = $uid)
		RETURN a.uid AS uid_a, b.uid AS uid_b, r.created_at AS created_at
		ORDER BY uid_a, uid_b`
)

// SchemaQueries returns the constraint and index statements for a dialect.
func SchemaQueries(dialect string) []string {
	if dialect == DialectNeo4j {
		return []string{
			"CREATE CONSTRAINT entity_uid IF NOT EXISTS FOR (n:Entity) REQUIRE n.uid IS UNIQUE",
			"CREATE CONSTRAINT entity_dedup_key IF NOT EXISTS FOR (n:Entity) REQUIRE n.dedup_key IS UNIQUE",
			"CREATE INDEX entity_category IF NOT EXISTS FOR (n:Entity) ON (n.category)",
		}
	}
	return []string{
		"CREATE INDEX ON :Entity(uid);",
		"CREATE INDEX ON :Entity(dedup_key);",
		"CREATE INDEX ON :Entity(category);",
		"CREATE CONSTRAINT ON (n:Entity) ASSERT n.uid IS UNIQUE;",
		"CREATE CONSTRAINT ON (n:Entity) ASSERT n.dedup_key IS UNIQUE;",
	}
}
