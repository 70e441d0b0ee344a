package model

////////////////////////
// GAME SCHEMA
////////////////////////

// The structs below mirror the parts of the dedicated server's game.db that
// clanmap reads. They are never migrated against a live server database,
// only used to build fixture databases.

// GameModels lists the mirrored game tables
var GameModels = []interface{}{
	&Guild{},
	&Character{},
	&Building{},
	&BuildingInstance{},
}

// Guild is a clan. Owner references Character.ID.
type Guild struct {
	GuildID int64  `gorm:"column:guildId;primaryKey;autoIncrement:false"`
	Name    string `gorm:"column:name"`
	Owner   *int64 `gorm:"column:owner"`
}

func (*Guild) TableName() string {
	return "guilds"
}

// Character is a player character
type Character struct {
	ID       int64  `gorm:"column:id;primaryKey;autoIncrement:false"`
	CharName string `gorm:"column:char_name"`
	Guild    *int64 `gorm:"column:guild"`
}

func (*Character) TableName() string {
	return "characters"
}

// Building is a placed building object owned by a guild or a character
type Building struct {
	ObjectID int64 `gorm:"column:object_id;primaryKey;autoIncrement:false"`
	OwnerID  int64 `gorm:"column:owner_id"`
}

func (*Building) TableName() string {
	return "buildings"
}

// BuildingInstance is a single piece of a building. Transform1 holds a 40 byte FTransform.
type BuildingInstance struct {
	ObjectID   int64  `gorm:"column:object_id;primaryKey;autoIncrement:false"`
	InstanceID int64  `gorm:"column:instance_id;primaryKey;autoIncrement:false"`
	Transform1 []byte `gorm:"column:transform1"`
}

func (*BuildingInstance) TableName() string {
	return "building_instances"
}
