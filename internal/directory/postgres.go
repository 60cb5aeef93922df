package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	_ "github.com/jackc/pgx/v5/stdlib"
)

var _ Store = (*PGStore)(nil)

// Open connects to PostgreSQL through the pgx stdlib driver with tuned pool
// defaults.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db   *sql.DB
	node *snowflake.Node
}

// NewPGStore wires the store; node generates ids for inserted rows.
func NewPGStore(db *sql.DB, node *snowflake.Node) *PGStore {
	return &PGStore{db: db, node: node}
}

func (s *PGStore) Buildings(context.Context) BuildingStore { return &buildingStore{db: s.db} }
func (s *PGStore) Companies(context.Context) CompanyStore  { return &companyStore{db: s.db} }
func (s *PGStore) Users(context.Context) UserStore {
	return &userStore{db: s.db, node: s.node}
}

// Building store -----------------------------------------------------------
type buildingStore struct{ db *sql.DB }

func (s *buildingStore) Find(ctx context.Context, id int64) (*Building, error) {
	row := s.db.QueryRowContext(ctx, `select id, name, address from buildings where id=$1`, id)
	return scanBuilding(row)
}

func (s *buildingStore) FindByName(ctx context.Context, name string) (*Building, error) {
	row := s.db.QueryRowContext(ctx, `select id, name, address from buildings where name=$1`, name)
	return scanBuilding(row)
}

func (s *buildingStore) SearchByName(ctx context.Context, keyword string) ([]*Building, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, name, address from buildings where name ilike $1 escape '\' order by name, id`,
		"%"+likeEscaper.Replace(keyword)+"%")
	if err != nil {
		return nil, fmt.Errorf("search buildings: %w", err)
	}
	defer rows.Close()

	var res []*Building
	for rows.Next() {
		var b Building
		if err := rows.Scan(&b.ID, &b.Name, &b.Address); err != nil {
			return nil, err
		}
		res = append(res, &b)
	}
	return res, rows.Err()
}

func scanBuilding(row *sql.Row) (*Building, error) {
	var b Building
	if err := row.Scan(&b.ID, &b.Name, &b.Address); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load building: %w", err)
	}
	return &b, nil
}

// Company store ------------------------------------------------------------
type companyStore struct{ db *sql.DB }

func (s *companyStore) FindByName(ctx context.Context, name string) (*Company, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, address, building_id from companies where name=$1`, name)
	var c Company
	if err := row.Scan(&c.ID, &c.Name, &c.Address, &c.BuildingID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load company: %w", err)
	}
	return &c, nil
}

func (s *companyStore) ListByBuilding(ctx context.Context, buildingID int64) ([]*Company, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, name, address, building_id from companies where building_id=$1 order by name, id`, buildingID)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	defer rows.Close()

	var res []*Company
	for rows.Next() {
		var c Company
		if err := rows.Scan(&c.ID, &c.Name, &c.Address, &c.BuildingID); err != nil {
			return nil, err
		}
		res = append(res, &c)
	}
	return res, rows.Err()
}

// User store ---------------------------------------------------------------
type userStore struct {
	db   *sql.DB
	node *snowflake.Node
}

const userColumns = `u.id, u.email, u.phone_number, u.password_hash, u.name, u.building_id, u.company_id, u.created_at,
	b.name, b.address, c.name, c.address, c.building_id`

func (s *userStore) Create(ctx context.Context, u *User) error {
	if u.ID == 0 {
		if s.node == nil {
			return errors.New("directory: id generator not configured")
		}
		u.ID = s.node.Generate().Int64()
	}
	err := s.db.QueryRowContext(ctx,
		`insert into users(id, email, phone_number, password_hash, name, building_id, company_id)
		 values($1,$2,$3,$4,$5,$6,$7) returning created_at`,
		u.ID, u.Email, u.PhoneNumber, u.PasswordHash, u.Name, u.BuildingID, u.CompanyID,
	).Scan(&u.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *userStore) Find(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users u
		join buildings b on b.id=u.building_id
		join companies c on c.id=u.company_id
		where u.id=$1`, id)
	return scanUser(row)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users u
		join buildings b on b.id=u.building_id
		join companies c on c.id=u.company_id
		where u.email=$1`, email)
	return scanUser(row)
}

func (s *userStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return s.exists(ctx, `select exists(select 1 from users where email=$1)`, email)
}

func (s *userStore) ExistsByPhone(ctx context.Context, phone string) (bool, error) {
	return s.exists(ctx, `select exists(select 1 from users where phone_number=$1)`, phone)
}

func (s *userStore) exists(ctx context.Context, query, arg string) (bool, error) {
	var ok bool
	if err := s.db.QueryRowContext(ctx, query, arg).Scan(&ok); err != nil {
		return false, fmt.Errorf("check user: %w", err)
	}
	return ok, nil
}

func scanUser(row *sql.Row) (*User, error) {
	var (
		u User
		b Building
		c Company
	)
	err := row.Scan(&u.ID, &u.Email, &u.PhoneNumber, &u.PasswordHash, &u.Name, &u.BuildingID, &u.CompanyID, &u.CreatedAt,
		&b.Name, &b.Address, &c.Name, &c.Address, &c.BuildingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	b.ID = u.BuildingID
	c.ID = u.CompanyID
	u.Building = &b
	u.Company = &c
	return &u, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
