package repo

import (
	"context"
	"database/sql"

	"prunsync/internal/domain"
)

// Static collections are versionless upstream snapshots; a refresh
// replaces the whole table inside one transaction.

func (r Repo) ReplaceMaterialsTx(ctx context.Context, tx *sql.Tx, materials []domain.Material) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM materials`); err != nil {
		return err
	}
	for _, m := range materials {
		_, err := tx.ExecContext(ctx, `INSERT INTO materials(material_id,category_id,category_name,name,ticker,weight,volume) VALUES (?,?,?,?,?,?,?)`,
			m.MaterialID, m.CategoryID, m.CategoryName, m.Name, m.Ticker, m.Weight, m.Volume)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ListMaterials(ctx context.Context) ([]domain.Material, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT material_id,category_id,category_name,name,ticker,weight,volume FROM materials ORDER BY ticker`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Material
	for rows.Next() {
		var m domain.Material
		if err := rows.Scan(&m.MaterialID, &m.CategoryID, &m.CategoryName, &m.Name, &m.Ticker, &m.Weight, &m.Volume); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// MaterialTickerMap maps material IDs to tickers, used when denormalizing
// planet resources.
func (r Repo) MaterialTickerMap(ctx context.Context) (map[string]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT material_id,ticker FROM materials`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]string{}
	for rows.Next() {
		var id, ticker string
		if err := rows.Scan(&id, &ticker); err != nil {
			return nil, err
		}
		res[id] = ticker
	}
	return res, rows.Err()
}

func (r Repo) ReplaceBuildingsTx(ctx context.Context, tx *sql.Tx, buildings []domain.Building) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM buildings`); err != nil {
		return err
	}
	for _, b := range buildings {
		_, err := tx.ExecContext(ctx, `INSERT INTO buildings(building_id,name,ticker,expertise,pioneers,settlers,technicians,engineers,scientists,area_cost) VALUES (?,?,?,?,?,?,?,?,?,?)`,
			b.BuildingID, b.Name, b.Ticker, nullable(b.Expertise), b.Pioneers, b.Settlers, b.Technicians, b.Engineers, b.Scientists, b.AreaCost)
		if err != nil {
			return err
		}
		for _, c := range b.Costs {
			_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO building_costs(building_id,material_ticker,amount) VALUES (?,?,?)`,
				b.BuildingID, c.MaterialTicker, c.Amount)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (r Repo) ListBuildings(ctx context.Context) ([]domain.Building, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT building_id,name,ticker,COALESCE(expertise,''),pioneers,settlers,technicians,engineers,scientists,area_cost FROM buildings ORDER BY ticker`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Building
	index := map[string]int{}
	for rows.Next() {
		var b domain.Building
		if err := rows.Scan(&b.BuildingID, &b.Name, &b.Ticker, &b.Expertise, &b.Pioneers, &b.Settlers, &b.Technicians, &b.Engineers, &b.Scientists, &b.AreaCost); err != nil {
			return nil, err
		}
		index[b.BuildingID] = len(res)
		res = append(res, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	costRows, err := r.DB.QueryContext(ctx, `SELECT building_id,material_ticker,amount FROM building_costs ORDER BY building_id,material_ticker`)
	if err != nil {
		return nil, err
	}
	defer costRows.Close()
	for costRows.Next() {
		var id string
		var c domain.BuildingCost
		if err := costRows.Scan(&id, &c.MaterialTicker, &c.Amount); err != nil {
			return nil, err
		}
		if i, ok := index[id]; ok {
			res[i].Costs = append(res[i].Costs, c)
		}
	}
	return res, costRows.Err()
}

func (r Repo) ReplaceRecipesTx(ctx context.Context, tx *sql.Tx, recipes []domain.Recipe) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM recipes`); err != nil {
		return err
	}
	for _, rc := range recipes {
		_, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO recipes(standard_name,name,building_ticker,time_ms) VALUES (?,?,?,?)`,
			rc.StandardName, rc.Name, rc.BuildingTicker, rc.TimeMs)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM recipe_inputs WHERE standard_name=?`, rc.StandardName); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM recipe_outputs WHERE standard_name=?`, rc.StandardName); err != nil {
			return err
		}
		for _, in := range rc.Inputs {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO recipe_inputs(standard_name,material_ticker,amount) VALUES (?,?,?)`, rc.StandardName, in.MaterialTicker, in.Amount); err != nil {
				return err
			}
		}
		for _, out := range rc.Outputs {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO recipe_outputs(standard_name,material_ticker,amount) VALUES (?,?,?)`, rc.StandardName, out.MaterialTicker, out.Amount); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r Repo) ListRecipes(ctx context.Context) ([]domain.Recipe, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT standard_name,name,building_ticker,time_ms FROM recipes ORDER BY standard_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Recipe
	index := map[string]int{}
	for rows.Next() {
		var rc domain.Recipe
		if err := rows.Scan(&rc.StandardName, &rc.Name, &rc.BuildingTicker, &rc.TimeMs); err != nil {
			return nil, err
		}
		index[rc.StandardName] = len(res)
		res = append(res, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	load := func(table string, assign func(i int, m domain.RecipeMaterial)) error {
		matRows, err := r.DB.QueryContext(ctx, `SELECT standard_name,material_ticker,amount FROM `+table+` ORDER BY standard_name,material_ticker`)
		if err != nil {
			return err
		}
		defer matRows.Close()
		for matRows.Next() {
			var name string
			var m domain.RecipeMaterial
			if err := matRows.Scan(&name, &m.MaterialTicker, &m.Amount); err != nil {
				return err
			}
			if i, ok := index[name]; ok {
				assign(i, m)
			}
		}
		return matRows.Err()
	}
	if err := load("recipe_inputs", func(i int, m domain.RecipeMaterial) { res[i].Inputs = append(res[i].Inputs, m) }); err != nil {
		return nil, err
	}
	if err := load("recipe_outputs", func(i int, m domain.RecipeMaterial) { res[i].Outputs = append(res[i].Outputs, m) }); err != nil {
		return nil, err
	}
	return res, nil
}
